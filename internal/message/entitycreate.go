package message

import (
	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Entity create
// -------------------------------------------------------------------------

// Physics presence bits. The canonical field order below is fixed and
// deliberately unrelated to the numeric bit order.
const (
	physSetup       uint32 = 0x00000001
	physMotionTable uint32 = 0x00000002
	physVelocity    uint32 = 0x00000004
	physSoundTable  uint32 = 0x00000008
	physEffectTable uint32 = 0x00000010
	physPosition    uint32 = 0x00008000
	physMovement    uint32 = 0x00010000
	physAnimFrame   uint32 = 0x00020000
	physScript      uint32 = 0x00100000
	physElasticity  uint32 = 0x00200000
	physFriction    uint32 = 0x00400000
)

// Weenie presence bits.
const (
	weeniePluralName uint32 = 0x00000001
	weenieCapacity   uint32 = 0x00000002
	weenieValue      uint32 = 0x00000004
	weenieUsable     uint32 = 0x00000008
	weenieStack      uint32 = 0x00000010
	weenieContainer  uint32 = 0x00000020
	weenieWielder    uint32 = 0x00000040
	weenieMonarch    uint32 = 0x00000080
	weenieHookType   uint32 = 0x00000100
	weenieBurden     uint32 = 0x00000200
	weenieIntProps   uint32 = 0x00000400
)

// EntityCreate is the object-creation message: identity and name, two
// flag words of optional physics and weenie fields, an optional
// property table, and the trailing sequence-counter block.
type EntityCreate struct {
	ObjectID uint32
	Name     string

	// --- physics fields, gated by the first flag word ---

	Position    *wire.Position
	Setup       *uint32
	MotionTable *uint32
	SoundTable  *uint32
	EffectTable *uint32

	// Movement is an opaque animation blob, length-prefixed and
	// 4-byte aligned on the wire.
	Movement []byte

	AnimationFrame *uint32
	Velocity       *wire.Vector3
	DefaultScript  *uint32
	Elasticity     *float32
	Friction       *float32

	// --- weenie fields, gated by the second flag word ---

	PluralName        *string
	ContainerCapacity *uint32
	Value             *uint32
	Usable            *uint32
	StackSize         *uint16
	MaxStackSize      *uint16
	Container         *uint32
	Wielder           *uint32
	Monarch           *uint32
	HookType          *uint16
	Burden            *uint16

	// IntProperties rides along for servers that inline a property
	// table in the creation message.
	IntProperties IntTable

	// Counters is the trailing sequence-counter block.
	Counters [sequenceBlockSlots]uint16
}

// physicsFields is the canonical physics field order: placement first,
// then appearance tables, then the motion state.
func (m *EntityCreate) physicsFields() []Field {
	return []Field{
		{
			Name: "position", Word: 0, Mask: physPosition,
			Present: func() bool { return m.Position != nil },
			Decode: func(r *wire.Reader) error {
				p, err := wire.ReadPosition(r)
				if err != nil {
					return err
				}
				m.Position = &p
				return nil
			},
			Encode: func(w *wire.Writer) error { m.Position.Write(w); return nil },
		},
		varDwordField("setup", 0, physSetup, &m.Setup),
		varDwordField("motion_table", 0, physMotionTable, &m.MotionTable),
		varDwordField("sound_table", 0, physSoundTable, &m.SoundTable),
		varDwordField("effect_table", 0, physEffectTable, &m.EffectTable),
		{
			Name: "movement", Word: 0, Mask: physMovement,
			Present: func() bool { return m.Movement != nil },
			Decode: func(r *wire.Reader) error {
				b, err := readBlob(r, "movement")
				if err != nil {
					return err
				}
				m.Movement = b
				return nil
			},
			Encode: func(w *wire.Writer) error { writeBlob(w, m.Movement); return nil },
		},
		uint32Field("animation_frame", 0, physAnimFrame, &m.AnimationFrame),
		{
			Name: "velocity", Word: 0, Mask: physVelocity,
			Present: func() bool { return m.Velocity != nil },
			Decode: func(r *wire.Reader) error {
				var v wire.Vector3
				var err error
				if v.X, err = r.Float32("velocity"); err != nil {
					return err
				}
				if v.Y, err = r.Float32("velocity"); err != nil {
					return err
				}
				if v.Z, err = r.Float32("velocity"); err != nil {
					return err
				}
				m.Velocity = &v
				return nil
			},
			Encode: func(w *wire.Writer) error {
				w.Float32(m.Velocity.X)
				w.Float32(m.Velocity.Y)
				w.Float32(m.Velocity.Z)
				return nil
			},
		},
		varDwordField("default_script", 0, physScript, &m.DefaultScript),
		float32Field("elasticity", 0, physElasticity, &m.Elasticity),
		float32Field("friction", 0, physFriction, &m.Friction),
	}
}

// weenieFields is the canonical weenie field order. The two 16-bit
// pairs stay naturally aligned; the lone 16-bit fields align explicitly.
func (m *EntityCreate) weenieFields() []Field {
	return []Field{
		{
			Name: "plural_name", Word: 1, Mask: weeniePluralName,
			Present: func() bool { return m.PluralName != nil },
			Decode: func(r *wire.Reader) error {
				s, err := r.PadString16("plural_name")
				if err != nil {
					return err
				}
				m.PluralName = &s
				return nil
			},
			Encode: func(w *wire.Writer) error { return w.PadString16(*m.PluralName) },
		},
		uint32Field("container_capacity", 1, weenieCapacity, &m.ContainerCapacity),
		uint32Field("value", 1, weenieValue, &m.Value),
		varDwordField("usable", 1, weenieUsable, &m.Usable),
		{
			Name: "stack", Word: 1, Mask: weenieStack,
			Present: func() bool { return m.StackSize != nil },
			Decode: func(r *wire.Reader) error {
				var err error
				var a, b uint16
				if a, err = r.Uint16("stack.size"); err != nil {
					return err
				}
				if b, err = r.Uint16("stack.max"); err != nil {
					return err
				}
				m.StackSize, m.MaxStackSize = &a, &b
				return nil
			},
			Encode: func(w *wire.Writer) error {
				w.Uint16(*m.StackSize)
				w.Uint16(*m.MaxStackSize)
				return nil
			},
		},
		uint32Field("container", 1, weenieContainer, &m.Container),
		uint32Field("wielder", 1, weenieWielder, &m.Wielder),
		uint32Field("monarch", 1, weenieMonarch, &m.Monarch),
		alignedUint16Field("hook_type", 1, weenieHookType, &m.HookType),
		alignedUint16Field("burden", 1, weenieBurden, &m.Burden),
		{
			Name: "int_properties", Word: 1, Mask: weenieIntProps,
			Present: func() bool { return m.IntProperties != nil },
			Decode: func(r *wire.Reader) error {
				t, err := ReadIntTable(r, "int_properties")
				if err != nil {
					return err
				}
				m.IntProperties = t
				return nil
			},
			Encode: func(w *wire.Writer) error { return m.IntProperties.Write(w) },
		},
	}
}

// DecodeEntityCreate decodes the message body (opcode stripped).
func DecodeEntityCreate(r *wire.Reader) (any, error) {
	m := &EntityCreate{}

	var err error
	if m.ObjectID, err = r.Uint32("object_id"); err != nil {
		return nil, err
	}
	physFlags, err := r.Uint32("physics_flags")
	if err != nil {
		return nil, err
	}
	weenieFlags, err := r.Uint32("weenie_flags")
	if err != nil {
		return nil, err
	}
	if m.Name, err = r.PadString16("name"); err != nil {
		return nil, err
	}

	if err = decodeFields(r, []uint32{physFlags}, m.physicsFields()); err != nil {
		return nil, err
	}
	if err = decodeFields(r, []uint32{0, weenieFlags}, m.weenieFields()); err != nil {
		return nil, err
	}
	if err = readCounters(r, "sequence_block", m.Counters[:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes the message body (opcode excluded).
func (m *EntityCreate) Encode(w *wire.Writer) error {
	phys := m.physicsFields()
	weenie := m.weenieFields()

	w.Uint32(m.ObjectID)
	w.Uint32(flagsFor(phys, 1)[0])
	w.Uint32(flagsFor(weenie, 2)[1])
	if err := w.PadString16(m.Name); err != nil {
		return err
	}
	if err := encodeFields(w, phys); err != nil {
		return err
	}
	if err := encodeFields(w, weenie); err != nil {
		return err
	}
	writeCounters(w, m.Counters[:])
	return nil
}

// -------------------------------------------------------------------------
// Field constructors for the common scalar shapes
// -------------------------------------------------------------------------

func uint32Field(name string, word int, mask uint32, p **uint32) Field {
	return Field{
		Name: name, Word: word, Mask: mask,
		Present: func() bool { return *p != nil },
		Decode: func(r *wire.Reader) error {
			v, err := r.Uint32(name)
			if err != nil {
				return err
			}
			*p = &v
			return nil
		},
		Encode: func(w *wire.Writer) error { w.Uint32(**p); return nil },
	}
}

func varDwordField(name string, word int, mask uint32, p **uint32) Field {
	return Field{
		Name: name, Word: word, Mask: mask,
		Present: func() bool { return *p != nil },
		Decode: func(r *wire.Reader) error {
			v, err := r.VarDword(name)
			if err != nil {
				return err
			}
			*p = &v
			return nil
		},
		Encode: func(w *wire.Writer) error { return w.VarDword(**p) },
	}
}

func float32Field(name string, word int, mask uint32, p **float32) Field {
	return Field{
		Name: name, Word: word, Mask: mask,
		Present: func() bool { return *p != nil },
		Decode: func(r *wire.Reader) error {
			v, err := r.Float32(name)
			if err != nil {
				return err
			}
			*p = &v
			return nil
		},
		Encode: func(w *wire.Writer) error { w.Float32(**p); return nil },
	}
}

// alignedUint16Field is a lone 16-bit field padded out to the next
// 4-byte boundary on both sides.
func alignedUint16Field(name string, word int, mask uint32, p **uint16) Field {
	return Field{
		Name: name, Word: word, Mask: mask,
		Present: func() bool { return *p != nil },
		Decode: func(r *wire.Reader) error {
			v, err := r.Uint16(name)
			if err != nil {
				return err
			}
			if err := r.Align4(name); err != nil {
				return err
			}
			*p = &v
			return nil
		},
		Encode: func(w *wire.Writer) error {
			w.Uint16(**p)
			w.Align4()
			return nil
		},
	}
}
