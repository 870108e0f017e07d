package validate

import (
	"math"
	"testing"
	"time"
)

func TestRowHashDeterministic(t *testing.T) {
	cols := []string{"id", "name", "amount"}
	row := []any{int64(1), "alice", 9.5}

	if RowHash(cols, row) != RowHash(cols, row) {
		t.Error("same row must hash identically")
	}
}

func TestRowHashColumnOrderIndependent(t *testing.T) {
	a := RowHash([]string{"id", "name"}, []any{int64(1), "alice"})
	b := RowHash([]string{"name", "id"}, []any{"alice", int64(1)})
	if a != b {
		t.Error("hash must not depend on column order, only on column-value pairs")
	}
}

func TestRowHashCanonicalValues(t *testing.T) {
	cols := []string{"v"}

	t.Run("bytes fold to string", func(t *testing.T) {
		if RowHash(cols, []any{[]byte("abc")}) != RowHash(cols, []any{"abc"}) {
			t.Error("[]byte and string of same content must hash identically")
		}
	})

	t.Run("integer widths fold to int64", func(t *testing.T) {
		if RowHash(cols, []any{int32(7)}) != RowHash(cols, []any{int64(7)}) {
			t.Error("int32 and int64 of same value must hash identically")
		}
	})

	t.Run("float32 folds to float64", func(t *testing.T) {
		if RowHash(cols, []any{float32(2.5)}) != RowHash(cols, []any{float64(2.5)}) {
			t.Error("float32 and float64 of same value must hash identically")
		}
	})

	t.Run("unsigned folds to int64 when it fits", func(t *testing.T) {
		if RowHash(cols, []any{uint64(7)}) != RowHash(cols, []any{int64(7)}) {
			t.Error("uint64 and int64 of same value must hash identically")
		}
	})

	t.Run("oversized unsigned does not wrap negative", func(t *testing.T) {
		big := uint64(math.MaxInt64) + 1
		wrapped := int64(-9223372036854775808) // what a naive conversion yields
		if RowHash(cols, []any{big}) == RowHash(cols, []any{wrapped}) {
			t.Error("values past MaxInt64 must not collide with negative int64")
		}
	})

	t.Run("times normalize to UTC", func(t *testing.T) {
		loc := time.FixedZone("X", 3600)
		utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		local := utc.In(loc)
		if RowHash(cols, []any{utc}) != RowHash(cols, []any{local}) {
			t.Error("the same instant in different zones must hash identically")
		}
	})

	t.Run("different values differ", func(t *testing.T) {
		if RowHash(cols, []any{int64(1)}) == RowHash(cols, []any{int64(2)}) {
			t.Error("different values must not collide")
		}
	})

	t.Run("nil values", func(t *testing.T) {
		if RowHash(cols, []any{nil}) == RowHash(cols, []any{""}) {
			t.Error("nil and empty string are distinct values")
		}
	})
}

func TestRowHashShortRow(t *testing.T) {
	// A row shorter than the column list hashes with nil padding instead of
	// panicking.
	cols := []string{"a", "b"}
	if RowHash(cols, []any{int64(1)}) != RowHash(cols, []any{int64(1), nil}) {
		t.Error("missing trailing values should hash as nil")
	}
}
