package packet_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/merklejerk/holtburger/internal/packet"
)

// -------------------------------------------------------------------------
// TestHash32 — worked examples for the summation hash
// -------------------------------------------------------------------------

func TestHash32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{
			name: "empty",
			data: nil,
			want: 0,
		},
		{
			// (8 << 16) + 0x04030201 + 0x00070605.
			name: "two whole words",
			data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x00},
			want: 0x04120806,
		},
		{
			// (6 << 16) + 0x04030201 + (0x05 << 24) + (0x06 << 16).
			name: "two trailing bytes",
			data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
			want: 0x00060000 + 0x04030201 + 0x05000000 + 0x00060000,
		},
		{
			// (1 << 16) + (0xFF << 24).
			name: "single byte",
			data: []byte{0xFF},
			want: 0x00010000 + 0xFF000000,
		},
		{
			// Wraps: (4 << 16) + 0xFFFFFFFF rolls over.
			name: "wrapping add",
			data: []byte{0xFF, 0xFF, 0xFF, 0xFF},
			want: 0x0003FFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := packet.Hash32(tt.data); got != tt.want {
				t.Fatalf("Hash32(% x) = %#08x, want %#08x", tt.data, got, tt.want)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestHeaderRoundTrip — fixed header plus plain checksum
// -------------------------------------------------------------------------

func TestHeaderOnlyRoundTrip(t *testing.T) {
	t.Parallel()

	ack := uint32(41)
	p := &packet.Packet{
		Header: packet.Header{
			Sequence: 42,
			ClientID: 0x1234,
			Time:     77,
		},
		Optional: packet.OptionalHeaders{AckSequence: &ack},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(datagram) != packet.HeaderSize+4 {
		t.Fatalf("datagram is %d bytes, want %d", len(datagram), packet.HeaderSize+4)
	}

	got, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := got.VerifyPlain(); err != nil {
		t.Fatalf("VerifyPlain: %v", err)
	}
	if got.Header.Sequence != 42 || got.Header.ClientID != 0x1234 || got.Header.Time != 77 {
		t.Fatalf("header = %+v", got.Header)
	}
	if got.Optional.AckSequence == nil || *got.Optional.AckSequence != 41 {
		t.Fatalf("ack = %v, want 41", got.Optional.AckSequence)
	}
}

// -------------------------------------------------------------------------
// TestCompositeChecksum — single fragment, plain checksum
// -------------------------------------------------------------------------

func TestCompositeChecksumSingleFragment(t *testing.T) {
	t.Parallel()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	p := &packet.Packet{
		Header: packet.Header{Sequence: 3},
		Fragments: []packet.Fragment{{
			Sequence: 9, MessageID: 0xF7B0, Count: 1, Index: 0, Queue: 5,
			Data: data,
		}},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// The checksum decomposes as header hash + fragment header hash +
	// fragment data hash, nothing else.
	fragHdr := datagram[packet.HeaderSize : packet.HeaderSize+packet.FragmentHeaderSize]
	fragData := datagram[packet.HeaderSize+packet.FragmentHeaderSize:]
	wantPayload := packet.Hash32(fragHdr) + packet.Hash32(fragData)

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.PayloadHash() != wantPayload {
		t.Fatalf("payload hash %#08x, want %#08x", parsed.PayloadHash(), wantPayload)
	}
	if got, want := parsed.Header.Checksum, parsed.Header.Hash()+wantPayload; got != want {
		t.Fatalf("checksum %#08x, want %#08x", got, want)
	}
	if err := parsed.VerifyPlain(); err != nil {
		t.Fatalf("VerifyPlain: %v", err)
	}
}

// TestFragmentPaddingExcluded builds a fragment whose body is not a
// multiple of 4 and checks the zero padding reaches the wire but stays
// out of the hash and the size fields.
func TestFragmentPaddingExcluded(t *testing.T) {
	t.Parallel()

	data := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	p := &packet.Packet{
		Header: packet.Header{Sequence: 10},
		Fragments: []packet.Fragment{{
			Sequence: 1, Count: 1, Index: 0, Queue: 3, Data: data,
		}},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// 20 header + 16 fragment header + 5 data + 3 pad.
	if len(datagram) != 44 {
		t.Fatalf("datagram is %d bytes, want 44", len(datagram))
	}
	if !bytes.Equal(datagram[41:], []byte{0, 0, 0}) {
		t.Fatalf("tail pad = % x, want zeros", datagram[41:])
	}

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	frag := parsed.Fragments[0]
	if len(frag.Data) != len(data) || !bytes.Equal(frag.Data, data) {
		t.Fatalf("fragment data = % x, want % x", frag.Data, data)
	}

	wantPayload := packet.Hash32(datagram[20:36]) + packet.Hash32(data)
	if parsed.PayloadHash() != wantPayload {
		t.Fatalf("payload hash includes padding: %#08x, want %#08x",
			parsed.PayloadHash(), wantPayload)
	}
	if err := parsed.VerifyPlain(); err != nil {
		t.Fatalf("VerifyPlain: %v", err)
	}
}

// TestMultiFragmentSizeInvariant checks that the header size field equals
// the sum of per-fragment header, data and pad bytes.
func TestMultiFragmentSizeInvariant(t *testing.T) {
	t.Parallel()

	p := &packet.Packet{
		Header: packet.Header{Sequence: 2},
		Fragments: []packet.Fragment{
			{Sequence: 7, Count: 3, Index: 0, Queue: 9, Data: bytes.Repeat([]byte{1}, 10)},
			{Sequence: 7, Count: 3, Index: 1, Queue: 9, Data: bytes.Repeat([]byte{2}, 7)},
			{Sequence: 7, Count: 3, Index: 2, Queue: 9, Data: bytes.Repeat([]byte{3}, 4)},
		},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sum := 0
	for _, f := range parsed.Fragments {
		n := packet.FragmentHeaderSize + len(f.Data)
		sum += n + (4-n%4)%4
	}
	if int(parsed.Header.Size) != sum {
		t.Fatalf("size field %d, fragment sum %d", parsed.Header.Size, sum)
	}
	if len(parsed.Fragments) != 3 {
		t.Fatalf("parsed %d fragments, want 3", len(parsed.Fragments))
	}
	for i, f := range parsed.Fragments {
		if int(f.Index) != i || f.Count != 3 || f.Sequence != 7 {
			t.Fatalf("fragment %d = %+v", i, f)
		}
	}
}

// -------------------------------------------------------------------------
// TestMaskedChecksum — keystream-masked checksum recovery
// -------------------------------------------------------------------------

func TestMaskedChecksumRecovery(t *testing.T) {
	t.Parallel()

	const key = 0xCAFED00D
	p := &packet.Packet{
		Header: packet.Header{
			Sequence: 2,
			Flags:    packet.FlagEncryptedChecksum,
			ClientID: 9,
		},
		Fragments: []packet.Fragment{{
			Sequence: 1, Count: 1, Index: 0, Queue: 5, Data: []byte{1, 2, 3, 4},
		}},
	}

	datagram, err := p.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := parsed.RecoverKey(); got != key {
		t.Fatalf("RecoverKey = %#08x, want %#08x", got, key)
	}
	// The plain rule must not accept a masked checksum.
	if err := parsed.VerifyPlain(); err == nil {
		t.Fatal("VerifyPlain accepted a masked checksum")
	}
}

// -------------------------------------------------------------------------
// TestRetransmission — flag rewrite keeps the original key
// -------------------------------------------------------------------------

func TestMarkRetransmission(t *testing.T) {
	t.Parallel()

	const key = 0x11223344
	p := &packet.Packet{
		Header: packet.Header{Sequence: 5, Flags: packet.FlagEncryptedChecksum},
		Fragments: []packet.Fragment{{
			Sequence: 2, Count: 1, Index: 0, Queue: 3, Data: []byte{9, 9, 9, 9},
		}},
	}
	datagram, err := p.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	packet.MarkRetransmission(datagram, p.PayloadHash(), key)

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse after mark: %v", err)
	}
	if !parsed.Header.Flags.Has(packet.FlagRetransmission) {
		t.Fatal("retransmission flag not set")
	}
	if parsed.Header.Sequence != 5 {
		t.Fatalf("sequence changed to %d", parsed.Header.Sequence)
	}
	// Still validates against the original keystream word.
	if got := parsed.RecoverKey(); got != key {
		t.Fatalf("RecoverKey after mark = %#08x, want %#08x", got, key)
	}
}

// -------------------------------------------------------------------------
// TestHandshakePayloads — login, connect request, connect response
// -------------------------------------------------------------------------

func TestLoginRequestRoundTrip(t *testing.T) {
	t.Parallel()

	p := &packet.Packet{
		Header: packet.Header{Sequence: 0},
		Optional: packet.OptionalHeaders{
			LoginRequest: &packet.LoginRequest{
				ClientVersion: "1802",
				AuthType:      packet.AuthTypeAccountPassword,
				AuthFlags:     packet.AuthFlagRequestEncryption,
				Timestamp:     0x5F00AA11,
				Account:       "alastor",
				Password:      "hunter2",
			},
		},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Header.Flags.Has(packet.FlagLoginRequest) {
		t.Fatal("login flag not derived")
	}
	lr := parsed.Optional.LoginRequest
	if lr == nil {
		t.Fatal("login request not parsed")
	}
	if *lr != *p.Optional.LoginRequest {
		t.Fatalf("round trip = %+v, want %+v", *lr, *p.Optional.LoginRequest)
	}
	if err := parsed.VerifyPlain(); err != nil {
		t.Fatalf("VerifyPlain: %v", err)
	}
}

func TestConnectRequestRoundTrip(t *testing.T) {
	t.Parallel()

	cr := &packet.ConnectRequest{
		ServerTime: 123456.789,
		Cookie:     0xFEEDFACECAFEBEEF,
		ClientID:   0x2B,
		ServerSeed: 0xAABBCCDD,
		ClientSeed: 0x11223344,
	}
	p := &packet.Packet{
		Header:   packet.Header{Sequence: 1},
		Optional: packet.OptionalHeaders{ConnectRequest: cr},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// 32 bytes of handshake material.
	if len(datagram) != packet.HeaderSize+32 {
		t.Fatalf("datagram is %d bytes, want %d", len(datagram), packet.HeaderSize+32)
	}

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *parsed.Optional.ConnectRequest != *cr {
		t.Fatalf("round trip = %+v, want %+v", *parsed.Optional.ConnectRequest, *cr)
	}
}

func TestRetransmitListsAndEcho(t *testing.T) {
	t.Parallel()

	echo := float32(12.5)
	p := &packet.Packet{
		Header: packet.Header{Sequence: 30},
		Optional: packet.OptionalHeaders{
			RequestRetransmit: []uint32{11, 13, 14},
			EchoRequest:       &echo,
			Flow:              &packet.FlowControl{Bytes: 6000, Interval: 10},
		},
	}

	datagram, err := p.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := packet.Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := parsed.Optional.RequestRetransmit; len(got) != 3 || got[0] != 11 || got[2] != 14 {
		t.Fatalf("request retransmit = %v", got)
	}
	if parsed.Optional.EchoRequest == nil || *parsed.Optional.EchoRequest != echo {
		t.Fatalf("echo = %v", parsed.Optional.EchoRequest)
	}
	if fc := parsed.Optional.Flow; fc == nil || fc.Bytes != 6000 || fc.Interval != 10 {
		t.Fatalf("flow = %+v", parsed.Optional.Flow)
	}
}

// -------------------------------------------------------------------------
// TestIngressErrors — malformed datagrams
// -------------------------------------------------------------------------

func TestIngressErrors(t *testing.T) {
	t.Parallel()

	ack := uint32(1)
	good, err := (&packet.Packet{
		Header:   packet.Header{Sequence: 1},
		Optional: packet.OptionalHeaders{AckSequence: &ack},
	}).Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	t.Run("short datagram", func(t *testing.T) {
		t.Parallel()
		if _, err := packet.Parse(good[:10]); !errors.Is(err, packet.ErrShortDatagram) {
			t.Fatalf("err = %v, want ErrShortDatagram", err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(good)
		bad[16] = 0xFF // size field
		if _, err := packet.Parse(bad); !errors.Is(err, packet.ErrShortDatagram) {
			t.Fatalf("err = %v, want ErrShortDatagram", err)
		}
	})

	t.Run("bad iteration", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(good)
		bad[18] = 0x02
		if _, err := packet.Parse(bad); !errors.Is(err, packet.ErrBadIteration) {
			t.Fatalf("err = %v, want ErrBadIteration", err)
		}
	})

	t.Run("unknown flag bit", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(good)
		bad[4] |= 0x40 // undefined low flag bit
		if _, err := packet.Parse(bad); !errors.Is(err, packet.ErrUnknownFlagShape) {
			t.Fatalf("err = %v, want ErrUnknownFlagShape", err)
		}
	})

	t.Run("fragment overrun", func(t *testing.T) {
		t.Parallel()
		p := &packet.Packet{
			Header: packet.Header{Sequence: 4},
			Fragments: []packet.Fragment{{
				Sequence: 1, Count: 1, Index: 0, Data: []byte{1, 2, 3, 4},
			}},
		}
		datagram, err := p.Marshal(0)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		// Inflate the fragment's size field past the payload.
		datagram[packet.HeaderSize+10] = 0xFF
		if _, err := packet.Parse(datagram); !errors.Is(err, packet.ErrFragmentOverrun) {
			t.Fatalf("err = %v, want ErrFragmentOverrun", err)
		}
	})

	t.Run("oversized build", func(t *testing.T) {
		t.Parallel()
		p := &packet.Packet{
			Fragments: []packet.Fragment{
				{Sequence: 1, Count: 3, Index: 0, Data: bytes.Repeat([]byte{1}, packet.MaxFragmentData)},
				{Sequence: 1, Count: 3, Index: 1, Data: bytes.Repeat([]byte{1}, packet.MaxFragmentData)},
				{Sequence: 1, Count: 3, Index: 2, Data: bytes.Repeat([]byte{1}, packet.MaxFragmentData)},
			},
		}
		if _, err := p.Marshal(0); !errors.Is(err, packet.ErrPayloadTooLarge) {
			t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
		}
	})
}
