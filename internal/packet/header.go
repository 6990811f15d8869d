// Package packet implements the datagram framing layer of the Asheron's
// Call wire protocol: the fixed 20-byte header, the flag-driven
// optional-header block, fragment framing with 4-byte alignment, and the
// composite checksum in both its plain and keystream-masked forms.
//
// Parsing validates structure and computes the component hashes but does
// not judge checksums; the session layer owns the keystreams and decides
// which word a packet must match. Building is the exact inverse of
// parsing and fills the checksum in.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Wire constants
// -------------------------------------------------------------------------

const (
	// HeaderSize is the fixed packet header size in bytes.
	HeaderSize = 20

	// MaxDatagramSize is the largest datagram either side emits.
	MaxDatagramSize = 1024

	// MaxPayloadSize bounds the header's size field.
	MaxPayloadSize = MaxDatagramSize - HeaderSize

	// Iteration is the fixed value of the header's iteration field.
	Iteration uint16 = 0x0001
)

// -------------------------------------------------------------------------
// Flags
// -------------------------------------------------------------------------

// Flag is the packet header flags bitmask. Each payload-bearing flag
// drives the parse of one optional-header block, in the fixed order the
// fields of OptionalHeaders are declared in, regardless of bit position.
type Flag uint32

const (
	// FlagRetransmission marks a resend of a previously emitted
	// sequence. Retransmissions carry their original checksum material.
	FlagRetransmission Flag = 0x1

	// FlagEncryptedChecksum marks a checksum masked with one keystream
	// word. Mandatory on all post-handshake packets.
	FlagEncryptedChecksum Flag = 0x2

	// FlagBlobFragments indicates fragments follow the optional headers.
	FlagBlobFragments Flag = 0x4

	// FlagServerSwitch announces a server transfer. No payload.
	FlagServerSwitch Flag = 0x100

	// FlagRequestRetransmit lists sequences the sender is missing.
	FlagRequestRetransmit Flag = 0x1000

	// FlagRejectRetransmit lists requested sequences the sender will
	// not resend.
	FlagRejectRetransmit Flag = 0x2000

	// FlagAckSequence acknowledges everything up to a sequence.
	FlagAckSequence Flag = 0x4000

	// FlagDisconnect is a clean session teardown. No payload.
	FlagDisconnect Flag = 0x8000

	// FlagLoginRequest marks the initial handshake packet; the login
	// body is the remainder of the payload.
	FlagLoginRequest Flag = 0x10000

	// FlagWorldLoginRequest re-enters the world on an existing account.
	// No payload.
	FlagWorldLoginRequest Flag = 0x20000

	// FlagConnectRequest carries the 32-byte handshake material.
	FlagConnectRequest Flag = 0x40000

	// FlagConnectResponse echoes the 8-byte handshake cookie.
	FlagConnectResponse Flag = 0x80000

	// FlagTimeSync carries the server clock as a double.
	FlagTimeSync Flag = 0x1000000

	// FlagEchoRequest carries the sender's 4-byte clock sample.
	FlagEchoRequest Flag = 0x2000000

	// FlagEchoResponse carries the echoed sample plus hold time.
	FlagEchoResponse Flag = 0x4000000

	// FlagFlow carries the peer's throughput cap.
	FlagFlow Flag = 0x8000000
)

// knownFlags is every bit this implementation can parse. Anything else
// in the flags word makes the optional-header layout undecodable.
const knownFlags = FlagRetransmission | FlagEncryptedChecksum | FlagBlobFragments |
	FlagServerSwitch | FlagRequestRetransmit | FlagRejectRetransmit |
	FlagAckSequence | FlagDisconnect | FlagLoginRequest | FlagWorldLoginRequest |
	FlagConnectRequest | FlagConnectResponse | FlagTimeSync |
	FlagEchoRequest | FlagEchoResponse | FlagFlow

// Has reports whether all bits of q are set.
func (f Flag) Has(q Flag) bool { return f&q == q }

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// Sentinel errors for framing failures. Ingress failures are recoverable
// per datagram: the session drops the datagram and counts it.
var (
	// ErrShortDatagram indicates a datagram below the header size or a
	// size field that disagrees with the bytes on hand.
	ErrShortDatagram = errors.New("short datagram")

	// ErrBadIteration indicates an iteration field other than 0x0001.
	ErrBadIteration = errors.New("bad iteration field")

	// ErrUnknownFlagShape indicates flag bits whose optional-header
	// layout this implementation cannot decode.
	ErrUnknownFlagShape = errors.New("unknown flag shape")

	// ErrFragmentOverrun indicates a fragment size field that exceeds
	// the remaining packet payload.
	ErrFragmentOverrun = errors.New("fragment overruns payload")

	// ErrChecksumMismatch indicates a plain checksum that failed to
	// verify.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrPayloadTooLarge indicates a build that exceeds the datagram
	// budget. Builder-side errors are programmer errors.
	ErrPayloadTooLarge = errors.New("payload exceeds datagram budget")
)

// -------------------------------------------------------------------------
// Header — fixed 20 bytes
// -------------------------------------------------------------------------

// Header is the fixed packet header. Field order matches the wire:
// sequence, flags, checksum, client id, time, size, iteration.
type Header struct {
	// Sequence is the per-sender wrapping packet counter.
	Sequence uint32

	// Flags is the bitmask driving the optional-header layout.
	Flags Flag

	// Checksum is the composite checksum (see VerifyPlain/RecoverKey).
	Checksum uint32

	// ClientID is the server-assigned 16-bit session id, zero before
	// the handshake assigns one.
	ClientID uint16

	// Time is the sender's rolling 16-bit clock.
	Time uint16

	// Size is the payload byte count following the header.
	Size uint16

	// IterationField is fixed at Iteration on the wire.
	IterationField uint16
}

// parseHeader decodes the fixed header from the front of a datagram.
func parseHeader(datagram []byte) (Header, error) {
	if len(datagram) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, got %d: %w",
			HeaderSize, len(datagram), ErrShortDatagram)
	}

	h := Header{
		Sequence:       binary.LittleEndian.Uint32(datagram[0:4]),
		Flags:          Flag(binary.LittleEndian.Uint32(datagram[4:8])),
		Checksum:       binary.LittleEndian.Uint32(datagram[8:12]),
		ClientID:       binary.LittleEndian.Uint16(datagram[12:14]),
		Time:           binary.LittleEndian.Uint16(datagram[14:16]),
		Size:           binary.LittleEndian.Uint16(datagram[16:18]),
		IterationField: binary.LittleEndian.Uint16(datagram[18:20]),
	}

	if h.IterationField != Iteration {
		return Header{}, fmt.Errorf("iteration %#04x: %w", h.IterationField, ErrBadIteration)
	}
	if int(h.Size) != len(datagram)-HeaderSize {
		return Header{}, fmt.Errorf("size field %d, payload %d: %w",
			h.Size, len(datagram)-HeaderSize, ErrShortDatagram)
	}

	return h, nil
}

// marshal writes the fixed header into buf, which must be at least
// HeaderSize bytes.
func (h Header) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Sequence)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[8:12], h.Checksum)
	binary.LittleEndian.PutUint16(buf[12:14], h.ClientID)
	binary.LittleEndian.PutUint16(buf[14:16], h.Time)
	binary.LittleEndian.PutUint16(buf[16:18], h.Size)
	binary.LittleEndian.PutUint16(buf[18:20], h.IterationField)
}

// Hash computes the header's own hash: Hash32 over the 20 header bytes
// with the checksum field replaced by the sentinel.
func (h Header) Hash() uint32 {
	var buf [HeaderSize]byte
	masked := h
	masked.Checksum = ChecksumSentinel
	masked.marshal(buf[:])
	return Hash32(buf[:])
}

// headerHashOf computes the header hash directly from serialized bytes,
// used when recomputing a retained datagram's checksum for retransmit.
func headerHashOf(datagram []byte) uint32 {
	var buf [HeaderSize]byte
	copy(buf[:], datagram[:HeaderSize])
	binary.LittleEndian.PutUint32(buf[8:12], ChecksumSentinel)
	return Hash32(buf[:])
}
