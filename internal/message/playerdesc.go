package message

import (
	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Player description
// -------------------------------------------------------------------------

// Player description presence bits, first flag word. The extended bit
// announces a second flag word.
const (
	descInts     uint32 = 0x00000001
	descInt64s   uint32 = 0x00000002
	descBools    uint32 = 0x00000004
	descFloats   uint32 = 0x00000008
	descStrings  uint32 = 0x00000010
	descDataIDs  uint32 = 0x00000020
	descExtended uint32 = 0x80000000
)

// Second flag word bits.
const (
	descOptions uint32 = 0x00000001
)

// PlayerDescription is the login character sheet: identity, the six
// property tables, and the gameplay-options blob. The options blob has
// no interpreted structure here; it is delimited by its byte count and
// carried opaquely.
type PlayerDescription struct {
	ObjectID uint32
	Name     string

	Ints    IntTable
	Int64s  Int64Table
	Bools   BoolTable
	Floats  FloatTable
	Strings StringTable
	DataIDs DataTable

	// Options is the opaque gameplay-options blob, nil when absent.
	Options []byte

	// Counters is the trailing sequence-counter block.
	Counters [sequenceBlockSlots]uint16
}

// fields is the canonical order: the property tables by value width,
// then the options blob from the extended word.
func (m *PlayerDescription) fields() []Field {
	return []Field{
		{
			Name: "ints", Word: 0, Mask: descInts,
			Present: func() bool { return m.Ints != nil },
			Decode:  func(r *wire.Reader) error { t, err := ReadIntTable(r, "ints"); m.Ints = t; return err },
			Encode:  func(w *wire.Writer) error { return m.Ints.Write(w) },
		},
		{
			Name: "int64s", Word: 0, Mask: descInt64s,
			Present: func() bool { return m.Int64s != nil },
			Decode:  func(r *wire.Reader) error { t, err := ReadInt64Table(r, "int64s"); m.Int64s = t; return err },
			Encode:  func(w *wire.Writer) error { return m.Int64s.Write(w) },
		},
		{
			Name: "bools", Word: 0, Mask: descBools,
			Present: func() bool { return m.Bools != nil },
			Decode:  func(r *wire.Reader) error { t, err := ReadBoolTable(r, "bools"); m.Bools = t; return err },
			Encode:  func(w *wire.Writer) error { return m.Bools.Write(w) },
		},
		{
			Name: "floats", Word: 0, Mask: descFloats,
			Present: func() bool { return m.Floats != nil },
			Decode:  func(r *wire.Reader) error { t, err := ReadFloatTable(r, "floats"); m.Floats = t; return err },
			Encode:  func(w *wire.Writer) error { return m.Floats.Write(w) },
		},
		{
			Name: "strings", Word: 0, Mask: descStrings,
			Present: func() bool { return m.Strings != nil },
			Decode:  func(r *wire.Reader) error { t, err := ReadStringTable(r, "strings"); m.Strings = t; return err },
			Encode:  func(w *wire.Writer) error { return m.Strings.Write(w) },
		},
		{
			Name: "data_ids", Word: 0, Mask: descDataIDs,
			Present: func() bool { return m.DataIDs != nil },
			Decode:  func(r *wire.Reader) error { t, err := ReadDataTable(r, "data_ids"); m.DataIDs = t; return err },
			Encode:  func(w *wire.Writer) error { return m.DataIDs.Write(w) },
		},
		{
			Name: "options", Word: 1, Mask: descOptions,
			Present: func() bool { return m.Options != nil },
			Decode: func(r *wire.Reader) error {
				b, err := readBlob(r, "options")
				if err != nil {
					return err
				}
				m.Options = b
				return nil
			},
			Encode: func(w *wire.Writer) error { writeBlob(w, m.Options); return nil },
		},
	}
}

// DecodePlayerDescription decodes the message body (opcode stripped).
func DecodePlayerDescription(r *wire.Reader) (any, error) {
	m := &PlayerDescription{}
	fields := m.fields()

	word0, err := r.Uint32("description_flags")
	if err != nil {
		return nil, err
	}
	var word1 uint32
	if word0&descExtended != 0 {
		if word1, err = r.Uint32("description_flags_2"); err != nil {
			return nil, err
		}
	}
	if m.ObjectID, err = r.Uint32("object_id"); err != nil {
		return nil, err
	}
	if m.Name, err = r.PadString16("name"); err != nil {
		return nil, err
	}

	if err = decodeFields(r, []uint32{word0, word1}, fields); err != nil {
		return nil, err
	}
	if err = readCounters(r, "sequence_block", m.Counters[:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes the message body (opcode excluded). The extended
// flag word appears only when one of its bits is in use.
func (m *PlayerDescription) Encode(w *wire.Writer) error {
	fields := m.fields()
	flags := flagsFor(fields, 2)
	if flags[1] != 0 {
		flags[0] |= descExtended
	}

	w.Uint32(flags[0])
	if flags[0]&descExtended != 0 {
		w.Uint32(flags[1])
	}
	w.Uint32(m.ObjectID)
	if err := w.PadString16(m.Name); err != nil {
		return err
	}
	if err := encodeFields(w, fields); err != nil {
		return err
	}
	writeCounters(w, m.Counters[:])
	return nil
}
