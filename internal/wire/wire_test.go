package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// TestVarDwordEncoding — exact bytes for both wire forms
// -------------------------------------------------------------------------

func TestVarDwordEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{name: "zero", value: 0, want: []byte{0x00, 0x00}},
		{name: "small", value: 0x100, want: []byte{0x00, 0x01}},
		{name: "short form boundary", value: 0x7FFF, want: []byte{0xFF, 0x7F}},
		{name: "long form boundary", value: 0x8000, want: []byte{0x00, 0x80, 0x00, 0x80}},
		{name: "one above 16 bits", value: 0x10000, want: []byte{0x01, 0x80, 0x00, 0x00}},
		{name: "max", value: wire.VarDwordMax, want: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := wire.NewWriter()
			if err := w.VarDword(tt.value); err != nil {
				t.Fatalf("VarDword(%#x): %v", tt.value, err)
			}
			if !bytes.Equal(w.Bytes(), tt.want) {
				t.Fatalf("VarDword(%#x) = % x, want % x", tt.value, w.Bytes(), tt.want)
			}

			r := wire.NewReader(w.Bytes())
			got, err := r.VarDword("v")
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Fatalf("round trip = %#x, want %#x", got, tt.value)
			}
			if r.Remaining() != 0 {
				t.Fatalf("decode left %d bytes unread", r.Remaining())
			}
		})
	}
}

func TestVarDwordRange(t *testing.T) {
	t.Parallel()

	w := wire.NewWriter()
	if err := w.VarDword(0x80000000); !errors.Is(err, wire.ErrValueRange) {
		t.Fatalf("VarDword(0x80000000) err = %v, want ErrValueRange", err)
	}
}

// -------------------------------------------------------------------------
// TestPadString16 — padded string with documented byte layouts
// -------------------------------------------------------------------------

func TestPadString16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    string
		want []byte
	}{
		{
			name: "abc pads to eight bytes",
			s:    "abc",
			want: []byte{0x03, 0x00, 0x61, 0x62, 0x63, 0x00, 0x00, 0x00},
		},
		{
			name: "empty pads to four bytes",
			s:    "",
			want: []byte{0x00, 0x00, 0x00, 0x00},
		},
		{
			name: "two chars need no data pad",
			s:    "hi",
			want: []byte{0x02, 0x00, 0x68, 0x69},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := wire.NewWriter()
			if err := w.PadString16(tt.s); err != nil {
				t.Fatalf("PadString16(%q): %v", tt.s, err)
			}
			if !bytes.Equal(w.Bytes(), tt.want) {
				t.Fatalf("PadString16(%q) = % x, want % x", tt.s, w.Bytes(), tt.want)
			}
			if w.Len()%4 != 0 {
				t.Fatalf("encoded length %d not 4-aligned", w.Len())
			}

			r := wire.NewReader(w.Bytes())
			got, err := r.PadString16("s")
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.s {
				t.Fatalf("round trip = %q, want %q", got, tt.s)
			}
			if r.Remaining() != 0 {
				t.Fatalf("decode left %d bytes unread", r.Remaining())
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestLoginString32 — login form including the 0xFF length escape
// -------------------------------------------------------------------------

func TestLoginString32RoundTrip(t *testing.T) {
	t.Parallel()

	long := string(bytes.Repeat([]byte{'p'}, 300))
	tests := []struct {
		name string
		s    string
	}{
		{name: "empty", s: ""},
		{name: "short password", s: "hunter2"},
		{name: "254 bytes stays short form", s: string(bytes.Repeat([]byte{'x'}, 254))},
		{name: "255 bytes switches to wide form", s: string(bytes.Repeat([]byte{'y'}, 255))},
		{name: "300 bytes wide form", s: long},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := wire.NewWriter()
			if err := w.LoginString32(tt.s); err != nil {
				t.Fatalf("LoginString32: %v", err)
			}
			// Counted region is everything after the 4-byte count and must
			// be a multiple of 4.
			if (w.Len()-4)%4 != 0 {
				t.Fatalf("counted region %d not 4-aligned", w.Len()-4)
			}

			r := wire.NewReader(w.Bytes())
			got, err := r.LoginString32("password")
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.s {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.s))
			}
			if r.Remaining() != 0 {
				t.Fatalf("decode left %d bytes unread", r.Remaining())
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestReaderFieldErrors — failures carry field name and offset
// -------------------------------------------------------------------------

func TestReaderFieldErrors(t *testing.T) {
	t.Parallel()

	r := wire.NewReader([]byte{0x01, 0x02})
	if _, err := r.Uint16("first"); err != nil {
		t.Fatalf("Uint16: %v", err)
	}

	_, err := r.Uint32("second")
	if err == nil {
		t.Fatal("Uint32 past end succeeded")
	}
	var fe *wire.FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T is not a *FieldError", err)
	}
	if fe.Field != "second" || fe.Offset != 2 {
		t.Fatalf("FieldError = %q at %d, want \"second\" at 2", fe.Field, fe.Offset)
	}
	if !errors.Is(err, wire.ErrShortBuffer) {
		t.Fatalf("error does not unwrap to ErrShortBuffer: %v", err)
	}
}

// -------------------------------------------------------------------------
// TestPositionForms — fixed and flag-compressed placement codecs
// -------------------------------------------------------------------------

func TestPositionFixedRoundTrip(t *testing.T) {
	t.Parallel()

	p := wire.Position{
		Cell:     0xA9B40015,
		Origin:   wire.Vector3{X: 50.5, Y: -20.25, Z: 0.075},
		Rotation: wire.Quaternion{W: 0.9238795, Z: 0.38268343},
	}

	w := wire.NewWriter()
	p.Write(w)
	if w.Len() != 32 {
		t.Fatalf("fixed position encodes to %d bytes, want 32", w.Len())
	}

	r := wire.NewReader(w.Bytes())
	got, err := wire.ReadPosition(r)
	if err != nil {
		t.Fatalf("ReadPosition: %v", err)
	}
	if got != p {
		t.Fatalf("round trip = %+v, want %+v", got, p)
	}
}

func TestVariantPositionRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		p         wire.VariantPosition
		wantFlags uint32
	}{
		{
			name: "full quaternion with velocity",
			p: wire.VariantPosition{
				Cell:        0x0001001C,
				Origin:      wire.Vector3{X: 1, Y: 2, Z: 3},
				Rotation:    wire.Quaternion{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5},
				Velocity:    wire.Vector3{X: 0, Y: 4, Z: 0},
				HasVelocity: true,
			},
			wantFlags: wire.VariantHasVelocity,
		},
		{
			name: "zero components elided",
			p: wire.VariantPosition{
				Cell:     0x0001001C,
				Origin:   wire.Vector3{X: 1, Y: 2, Z: 3},
				Rotation: wire.Quaternion{W: 1},
				Grounded: true,
			},
			wantFlags: wire.VariantGrounded | wire.VariantZeroX |
				wire.VariantZeroY | wire.VariantZeroZ,
		},
		{
			name: "placement id only",
			p: wire.VariantPosition{
				Cell:         0x8000003A,
				Origin:       wire.Vector3{X: -7, Y: 7, Z: 0.5},
				Rotation:     wire.Quaternion{W: 0.25, X: 0.25, Y: 0.25, Z: 0.25},
				Placement:    0x65,
				HasPlacement: true,
			},
			wantFlags: wire.VariantHasPlacement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if flags := tt.p.Flags(); flags != tt.wantFlags {
				t.Fatalf("Flags() = %#x, want %#x", flags, tt.wantFlags)
			}

			w := wire.NewWriter()
			tt.p.Write(w)

			r := wire.NewReader(w.Bytes())
			got, err := wire.ReadVariantPosition(r)
			if err != nil {
				t.Fatalf("ReadVariantPosition: %v", err)
			}
			if got != tt.p {
				t.Fatalf("round trip = %+v, want %+v", got, tt.p)
			}
			if r.Remaining() != 0 {
				t.Fatalf("decode left %d bytes unread", r.Remaining())
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestAlignment helpers
// -------------------------------------------------------------------------

func TestAlign4(t *testing.T) {
	t.Parallel()

	for n, want := range map[int]int{0: 0, 1: 4, 2: 4, 3: 4, 4: 4, 5: 8, 17: 20} {
		if got := wire.Align4(n); got != want {
			t.Errorf("Align4(%d) = %d, want %d", n, got, want)
		}
	}
	if got := wire.PadLen4(18); got != 2 {
		t.Errorf("PadLen4(18) = %d, want 2", got)
	}
}
