// Package wire implements the serialization primitives of the Asheron's
// Call wire protocol: little-endian cursor readers and writers, the
// variable-length 32-bit integer (VarDword), the padded and login string
// forms, quaternions, and the two position layouts.
//
// All multi-byte integers on the wire are little-endian. Floats are
// IEEE-754. Strings are 8-bit Western-superset bytes; this package treats
// them as raw bytes and leaves charset conversion to callers.
package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors for primitive codec failures.
var (
	// ErrShortBuffer indicates a read past the end of the input.
	ErrShortBuffer = errors.New("short buffer")

	// ErrValueRange indicates a value that does not fit its wire form
	// (for example a VarDword >= 0x80000000).
	ErrValueRange = errors.New("value out of range for wire form")

	// ErrStringTooLong indicates a string longer than its length prefix
	// can express.
	ErrStringTooLong = errors.New("string too long for length prefix")
)

// VarDwordMax is the largest value a VarDword can carry. The two-word
// form stores the high half in 15 bits, so the top bit is unusable.
const VarDwordMax = 0x7FFFFFFF

// FieldError reports a decode failure with the field name and the byte
// offset at which the mismatch was detected. Decoders surface these so a
// malformed message can be triaged without a capture in hand.
type FieldError struct {
	// Field is the name of the field being decoded.
	Field string

	// Offset is the byte offset into the input at which decoding failed.
	Offset int

	// Err is the underlying cause, usually ErrShortBuffer or ErrValueRange.
	Err error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q at offset %d: %v", e.Field, e.Offset, e.Err)
}

// Unwrap returns the underlying cause for errors.Is matching.
func (e *FieldError) Unwrap() error { return e.Err }

// Align4 returns n rounded up to the next multiple of 4.
func Align4(n int) int {
	return (n + 3) &^ 3
}

// PadLen4 returns the number of zero bytes needed to bring n up to a
// 4-byte boundary.
func PadLen4(n int) int {
	return Align4(n) - n
}
