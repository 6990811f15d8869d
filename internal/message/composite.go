package message

import "github.com/merklejerk/holtburger/internal/wire"

// -------------------------------------------------------------------------
// Generic bitmask field walker
// -------------------------------------------------------------------------

// Field is one optional field of a composite message. Fields are walked
// in slice order, which is the message's canonical order and not
// necessarily the numeric order of the mask bits.
type Field struct {
	// Name labels the field in decode errors.
	Name string

	// Word selects the flag word carrying the presence bit.
	Word int

	// Mask is the presence bit within that word.
	Mask uint32

	// Present reports whether the field serializes, driving the flag
	// bits on encode.
	Present func() bool

	// Decode reads the field into the target message.
	Decode func(r *wire.Reader) error

	// Encode writes the field from the target message.
	Encode func(w *wire.Writer) error
}

// flagsFor computes the flag words implied by the present fields.
func flagsFor(fields []Field, words int) []uint32 {
	flags := make([]uint32, words)
	for _, f := range fields {
		if f.Present() {
			flags[f.Word] |= f.Mask
		}
	}
	return flags
}

// decodeFields walks the canonical order, reading every field whose bit
// is set.
func decodeFields(r *wire.Reader, flags []uint32, fields []Field) error {
	for _, f := range fields {
		if f.Word >= len(flags) || flags[f.Word]&f.Mask == 0 {
			continue
		}
		if err := f.Decode(r); err != nil {
			return err
		}
	}
	return nil
}

// encodeFields walks the canonical order, writing every present field.
func encodeFields(w *wire.Writer, fields []Field) error {
	for _, f := range fields {
		if !f.Present() {
			continue
		}
		if err := f.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Shared message pieces
// -------------------------------------------------------------------------

// sequenceBlockSlots is the size of the trailing sequence-counter block
// the long object messages end with.
const sequenceBlockSlots = 9

// readCounters reads an n-slot 16-bit counter block and aligns past it.
func readCounters(r *wire.Reader, field string, out []uint16) error {
	for i := range out {
		v, err := r.Uint16(field)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return r.Align4(field)
}

// writeCounters writes an n-slot 16-bit counter block and aligns.
func writeCounters(w *wire.Writer, counters []uint16) {
	for _, v := range counters {
		w.Uint16(v)
	}
	w.Align4()
}

// readBlob reads a u32 byte count, that many opaque bytes, and the
// alignment that follows.
func readBlob(r *wire.Reader, field string) ([]byte, error) {
	n, err := r.Uint32(field + ".length")
	if err != nil {
		return nil, err
	}
	if int(n) > r.Remaining() {
		return nil, &wire.FieldError{Field: field, Offset: r.Offset(), Err: wire.ErrShortBuffer}
	}
	b, err := r.Bytes(field, int(n))
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(b))
	copy(data, b)
	if err := r.Align4(field); err != nil {
		return nil, err
	}
	return data, nil
}

// writeBlob writes a u32 byte count, the bytes, and alignment.
func writeBlob(w *wire.Writer, data []byte) {
	w.Uint32(uint32(len(data)))
	w.RawBytes(data)
	w.Align4()
}
