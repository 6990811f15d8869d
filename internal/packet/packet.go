package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Packet — parse and build
// -------------------------------------------------------------------------

// Packet is one decoded datagram: the fixed header, the flag-driven
// optional-header block, and any fragments.
type Packet struct {
	Header    Header
	Optional  OptionalHeaders
	Fragments []Fragment

	// payloadHash is the composite payload hash computed during parse
	// or build: the optional-header block plus each fragment's header
	// and body hashed separately, alignment padding excluded.
	payloadHash uint32
}

// Parse decodes a datagram. It validates the header, the optional-header
// layout, and the fragment framing, and computes the component hashes,
// but does not judge the checksum: the caller owns the keystreams and
// knows which word this sequence must match.
func Parse(datagram []byte) (*Packet, error) {
	h, err := parseHeader(datagram)
	if err != nil {
		return nil, err
	}
	if h.Flags&^knownFlags != 0 {
		return nil, fmt.Errorf("flags %#x: %w", uint32(h.Flags), ErrUnknownFlagShape)
	}

	p := &Packet{Header: h}
	payload := datagram[HeaderSize:]
	r := wire.NewReader(payload)

	if p.Optional, err = parseOptional(r, h.Flags); err != nil {
		return nil, fmt.Errorf("optional headers: %w: %w", ErrUnknownFlagShape, err)
	}
	optEnd := r.Offset()
	if optEnd > 0 {
		p.payloadHash += Hash32(payload[:optEnd])
	}

	if h.Flags.Has(FlagBlobFragments) {
		if err = r.Align4("fragment.align"); err != nil {
			return nil, fmt.Errorf("fragment alignment: %w", ErrShortDatagram)
		}
		if p.Fragments, err = parseFragments(r); err != nil {
			return nil, err
		}
		for i := range p.Fragments {
			p.payloadHash += p.Fragments[i].hash()
		}
	} else if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing payload bytes: %w",
			r.Remaining(), ErrUnknownFlagShape)
	}

	return p, nil
}

// PayloadHash returns the composite payload hash.
func (p *Packet) PayloadHash() uint32 { return p.payloadHash }

// VerifyPlain checks the checksum of a packet without the masked flag:
// header hash plus payload hash, wrapping.
func (p *Packet) VerifyPlain() error {
	want := p.Header.Hash() + p.payloadHash
	if p.Header.Checksum != want {
		return fmt.Errorf("checksum %#08x, computed %#08x: %w",
			p.Header.Checksum, want, ErrChecksumMismatch)
	}
	return nil
}

// RecoverKey inverts the masked checksum: the keystream word the sender
// must have used is (checksum - headerHash) XOR payloadHash. The caller
// compares it against the word its inbound keystream assigns to this
// sequence.
func (p *Packet) RecoverKey() uint32 {
	return (p.Header.Checksum - p.Header.Hash()) ^ p.payloadHash
}

// Marshal serializes the packet and fills in size and checksum. Flag
// bits for populated optional headers and for fragments are derived;
// marker bits already set on the header (retransmission, masked
// checksum, disconnect, server switch, world login) are preserved.
//
// key is consumed only when FlagEncryptedChecksum is set on the header:
// the checksum becomes headerHash + (payloadHash XOR key).
func (p *Packet) Marshal(key uint32) ([]byte, error) {
	p.Header.Flags |= p.Optional.flags()
	if len(p.Fragments) > 0 {
		p.Header.Flags |= FlagBlobFragments
	}
	p.Header.IterationField = Iteration

	w := wire.NewWriter()
	if err := p.Optional.write(w); err != nil {
		return nil, err
	}
	optEnd := w.Len()
	p.payloadHash = 0
	if optEnd > 0 {
		p.payloadHash = Hash32(w.Bytes())
	}

	if len(p.Fragments) > 0 {
		w.Align4()
		for i := range p.Fragments {
			p.Fragments[i].write(w)
			p.payloadHash += p.Fragments[i].hash()
		}
	}

	if w.Len() > MaxPayloadSize {
		return nil, fmt.Errorf("payload %d bytes: %w", w.Len(), ErrPayloadTooLarge)
	}
	p.Header.Size = uint16(w.Len())

	if p.Header.Flags.Has(FlagEncryptedChecksum) {
		p.Header.Checksum = p.Header.Hash() + (p.payloadHash ^ key)
	} else {
		p.Header.Checksum = p.Header.Hash() + p.payloadHash
	}

	datagram := make([]byte, HeaderSize+w.Len())
	p.Header.marshal(datagram[:HeaderSize])
	copy(datagram[HeaderSize:], w.Bytes())
	return datagram, nil
}

// MarkRetransmission rewrites a retained datagram in place for resend:
// it sets the retransmission flag and recomputes the checksum from the
// retained payload hash and, when the original was masked, the keystream
// word it originally consumed. Retransmits never consume a fresh word.
func MarkRetransmission(datagram []byte, payloadHash, key uint32) {
	flags := Flag(binary.LittleEndian.Uint32(datagram[4:8]))
	flags |= FlagRetransmission
	binary.LittleEndian.PutUint32(datagram[4:8], uint32(flags))

	checksum := headerHashOf(datagram)
	if flags.Has(FlagEncryptedChecksum) {
		checksum += payloadHash ^ key
	} else {
		checksum += payloadHash
	}
	binary.LittleEndian.PutUint32(datagram[8:12], checksum)
}
