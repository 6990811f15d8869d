// Package message implements the composite game-message layer of the
// Asheron's Call wire protocol: bucket-ordered property hash tables, the
// generic bitmask-driven optional-field walker, and the codecs for the
// long messages built from them (entity create, player description,
// position update).
package message

import (
	"slices"

	"github.com/merklejerk/holtburger/internal/wire"
)

// -------------------------------------------------------------------------
// Property hash tables
// -------------------------------------------------------------------------

// Property tables serialize as a VarDword entry count followed by the
// entries in bucket order: primary sort by key mod bucket count,
// secondary sort by key. The bucket count is the smallest power of two
// holding the entries at a load factor of one half, so the on-wire
// order is fully determined and a decode/encode round trip is
// byte-exact.

// BucketCount returns the bucket count for n entries: the smallest
// power of two at least twice n, minimum one.
func BucketCount(n int) uint32 {
	b := uint32(1)
	for b < uint32(2*n) {
		b <<= 1
	}
	return b
}

// bucketOrder returns keys sorted by (key mod buckets, key).
func bucketOrder(keys []uint32) []uint32 {
	buckets := BucketCount(len(keys))
	slices.SortFunc(keys, func(a, b uint32) int {
		ab, bb := a%buckets, b%buckets
		if ab != bb {
			if ab < bb {
				return -1
			}
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return keys
}

// sortedKeys collects and bucket-orders a map's keys.
func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return bucketOrder(keys)
}

// writeTable writes the count and each entry through writeEntry, in
// bucket order.
func writeTable[V any](w *wire.Writer, m map[uint32]V, writeEntry func(k uint32, v V) error) error {
	if err := w.VarDword(uint32(len(m))); err != nil {
		return err
	}
	for _, k := range sortedKeys(m) {
		if err := writeEntry(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// readTable reads the count and each entry through readEntry.
func readTable[V any](r *wire.Reader, field string, readEntry func() (uint32, V, error)) (map[uint32]V, error) {
	count, err := r.VarDword(field + ".count")
	if err != nil {
		return nil, err
	}
	m := make(map[uint32]V, count)
	for i := uint32(0); i < count; i++ {
		k, v, rerr := readEntry()
		if rerr != nil {
			return nil, rerr
		}
		m[k] = v
	}
	return m, nil
}

// IntTable maps property ids to 32-bit integers. Keys are fixed u32.
type IntTable map[uint32]uint32

func (t IntTable) Write(w *wire.Writer) error {
	return writeTable(w, t, func(k, v uint32) error {
		w.Uint32(k)
		w.Uint32(v)
		return nil
	})
}

func ReadIntTable(r *wire.Reader, field string) (IntTable, error) {
	return readTable(r, field, func() (uint32, uint32, error) {
		k, err := r.Uint32(field + ".key")
		if err != nil {
			return 0, 0, err
		}
		v, err := r.Uint32(field + ".value")
		return k, v, err
	})
}

// Int64Table maps property ids to 64-bit integers.
type Int64Table map[uint32]uint64

func (t Int64Table) Write(w *wire.Writer) error {
	return writeTable(w, t, func(k uint32, v uint64) error {
		w.Uint32(k)
		w.Uint64(v)
		return nil
	})
}

func ReadInt64Table(r *wire.Reader, field string) (Int64Table, error) {
	return readTable(r, field, func() (uint32, uint64, error) {
		k, err := r.Uint32(field + ".key")
		if err != nil {
			return 0, 0, err
		}
		v, err := r.Uint64(field + ".value")
		return k, v, err
	})
}

// BoolTable maps property ids to booleans, carried as 32-bit integers.
type BoolTable map[uint32]bool

func (t BoolTable) Write(w *wire.Writer) error {
	return writeTable(w, t, func(k uint32, v bool) error {
		w.Uint32(k)
		if v {
			w.Uint32(1)
		} else {
			w.Uint32(0)
		}
		return nil
	})
}

func ReadBoolTable(r *wire.Reader, field string) (BoolTable, error) {
	return readTable(r, field, func() (uint32, bool, error) {
		k, err := r.Uint32(field + ".key")
		if err != nil {
			return 0, false, err
		}
		v, err := r.Uint32(field + ".value")
		return k, v != 0, err
	})
}

// FloatTable maps property ids to doubles.
type FloatTable map[uint32]float64

func (t FloatTable) Write(w *wire.Writer) error {
	return writeTable(w, t, func(k uint32, v float64) error {
		w.Uint32(k)
		w.Float64(v)
		return nil
	})
}

func ReadFloatTable(r *wire.Reader, field string) (FloatTable, error) {
	return readTable(r, field, func() (uint32, float64, error) {
		k, err := r.Uint32(field + ".key")
		if err != nil {
			return 0, 0, err
		}
		v, err := r.Float64(field + ".value")
		return k, v, err
	})
}

// StringTable maps property ids to strings. Strings inside a table omit
// the 4-byte padding a top-level string carries.
type StringTable map[uint32]string

func (t StringTable) Write(w *wire.Writer) error {
	return writeTable(w, t, func(k uint32, v string) error {
		w.Uint32(k)
		return w.RawString16(v)
	})
}

func ReadStringTable(r *wire.Reader, field string) (StringTable, error) {
	return readTable(r, field, func() (uint32, string, error) {
		k, err := r.Uint32(field + ".key")
		if err != nil {
			return 0, "", err
		}
		v, err := r.RawString16(field + ".value")
		return k, v, err
	})
}

// DataTable maps data-id properties to data ids. Both sides use the
// variable-length integer form.
type DataTable map[uint32]uint32

func (t DataTable) Write(w *wire.Writer) error {
	return writeTable(w, t, func(k, v uint32) error {
		if err := w.VarDword(k); err != nil {
			return err
		}
		return w.VarDword(v)
	})
}

func ReadDataTable(r *wire.Reader, field string) (DataTable, error) {
	return readTable(r, field, func() (uint32, uint32, error) {
		k, err := r.VarDword(field + ".key")
		if err != nil {
			return 0, 0, err
		}
		v, err := r.VarDword(field + ".value")
		return k, v, err
	})
}
