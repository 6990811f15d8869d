package message

import (
	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Position update
// -------------------------------------------------------------------------

// PositionUpdate moves an object using the flag-compressed placement
// form, followed by the fixed block of four 16-bit sequence counters.
type PositionUpdate struct {
	ObjectID uint32
	Position wire.VariantPosition

	// The counter block: object instance, position, teleport, and
	// forced-position sequences, in wire order.
	InstanceSequence      uint16
	PositionSequence      uint16
	TeleportSequence      uint16
	ForcePositionSequence uint16
}

// DecodePositionUpdate decodes the message body (opcode stripped).
func DecodePositionUpdate(r *wire.Reader) (any, error) {
	m := &PositionUpdate{}

	var err error
	if m.ObjectID, err = r.Uint32("object_id"); err != nil {
		return nil, err
	}
	if m.Position, err = wire.ReadVariantPosition(r); err != nil {
		return nil, err
	}
	if m.InstanceSequence, err = r.Uint16("instance_sequence"); err != nil {
		return nil, err
	}
	if m.PositionSequence, err = r.Uint16("position_sequence"); err != nil {
		return nil, err
	}
	if m.TeleportSequence, err = r.Uint16("teleport_sequence"); err != nil {
		return nil, err
	}
	if m.ForcePositionSequence, err = r.Uint16("force_position_sequence"); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes the message body (opcode excluded).
func (m *PositionUpdate) Encode(w *wire.Writer) {
	w.Uint32(m.ObjectID)
	m.Position.Write(w)
	w.Uint16(m.InstanceSequence)
	w.Uint16(m.PositionSequence)
	w.Uint16(m.TeleportSequence)
	w.Uint16(m.ForcePositionSequence)
}
