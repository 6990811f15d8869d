package packet

import (
	"fmt"

	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Fragment framing
// -------------------------------------------------------------------------

const (
	// FragmentHeaderSize is the fixed fragment header size in bytes.
	FragmentHeaderSize = 16

	// MaxFragmentData is the largest data body one fragment carries.
	MaxFragmentData = 448

	// MaxFragmentSize is MaxFragmentData plus the fragment header.
	MaxFragmentSize = MaxFragmentData + FragmentHeaderSize
)

// Fragment is one slice of an application message. Every fragment of a
// message shares one fragment sequence; Index places it in [0, Count).
// Within a packet each fragment starts on a 4-byte boundary; the
// zero-fill padding between fragments is excluded from size fields and
// from every hash.
type Fragment struct {
	// Sequence is the message's fragment-sequence id, a counter
	// distinct from the per-packet sequence.
	Sequence uint32

	// MessageID is carried opaquely and echoed to the upper layer.
	MessageID uint32

	// Count is the total number of fragments in the message.
	Count uint16

	// Index is this fragment's position in [0, Count).
	Index uint16

	// Queue is the destination queue id delivered with the reassembled
	// message.
	Queue uint16

	// Data is the fragment body, at most MaxFragmentData bytes.
	Data []byte
}

// parseFragments walks the remainder of the payload as a fragment list.
// The reader must sit on a 4-byte boundary relative to the payload
// start, which itself is 4-aligned within the datagram.
func parseFragments(r *wire.Reader) ([]Fragment, error) {
	var frags []Fragment

	for r.Remaining() > 0 {
		var f Fragment
		var err error
		var size uint16

		if f.Sequence, err = r.Uint32("fragment.sequence"); err != nil {
			return nil, err
		}
		if f.MessageID, err = r.Uint32("fragment.message_id"); err != nil {
			return nil, err
		}
		if f.Count, err = r.Uint16("fragment.count"); err != nil {
			return nil, err
		}
		if size, err = r.Uint16("fragment.size"); err != nil {
			return nil, err
		}
		if f.Index, err = r.Uint16("fragment.index"); err != nil {
			return nil, err
		}
		if f.Queue, err = r.Uint16("fragment.queue"); err != nil {
			return nil, err
		}

		if size < FragmentHeaderSize {
			return nil, fmt.Errorf("fragment size %d below header size: %w",
				size, ErrFragmentOverrun)
		}
		dataLen := int(size) - FragmentHeaderSize
		if dataLen > r.Remaining() {
			return nil, fmt.Errorf("fragment data %d, payload remaining %d: %w",
				dataLen, r.Remaining(), ErrFragmentOverrun)
		}
		if f.Data, err = r.Bytes("fragment.data", dataLen); err != nil {
			return nil, err
		}
		if f.Count == 0 || f.Index >= f.Count {
			return nil, fmt.Errorf("fragment index %d of %d: %w",
				f.Index, f.Count, ErrFragmentOverrun)
		}

		frags = append(frags, f)

		// Advance to the next 4-byte boundary. A truncated tail pad
		// means the builder miscounted.
		pad := wire.PadLen4(r.Offset())
		if pad > r.Remaining() {
			return nil, fmt.Errorf("fragment pad %d, payload remaining %d: %w",
				pad, r.Remaining(), ErrFragmentOverrun)
		}
		if err = r.Skip("fragment.pad", pad); err != nil {
			return nil, err
		}
	}

	return frags, nil
}

// write serializes the fragment header and body, then pads the writer
// to a 4-byte boundary.
func (f *Fragment) write(w *wire.Writer) {
	w.Uint32(f.Sequence)
	w.Uint32(f.MessageID)
	w.Uint16(f.Count)
	w.Uint16(uint16(FragmentHeaderSize + len(f.Data)))
	w.Uint16(f.Index)
	w.Uint16(f.Queue)
	w.RawBytes(f.Data)
	w.Align4()
}

// hash returns the fragment's checksum contribution: its header and its
// body hashed separately, never the alignment padding.
func (f *Fragment) hash() uint32 {
	hdr := wire.NewWriter()
	hdr.Uint32(f.Sequence)
	hdr.Uint32(f.MessageID)
	hdr.Uint16(f.Count)
	hdr.Uint16(uint16(FragmentHeaderSize + len(f.Data)))
	hdr.Uint16(f.Index)
	hdr.Uint16(f.Queue)
	return Hash32(hdr.Bytes()) + Hash32(f.Data)
}
