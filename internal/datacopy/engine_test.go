package datacopy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dbferry/internal/adapter"
	"dbferry/internal/adapter/fake"
	"dbferry/internal/selection"
)

func TestChunkSizeFor(t *testing.T) {
	tests := []struct {
		expected int64
		want     int
	}{
		{0, DefaultChunkSize},
		{-1, DefaultChunkSize},
		{150, MinChunkSize},
		{1999, MinChunkSize},
		{2000, MinChunkSize},
		{4000, 2000},
		{20000, DefaultChunkSize},
		{25000, DefaultChunkSize},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.expected), func(t *testing.T) {
			if got := ChunkSizeFor(tt.expected); got != tt.want {
				t.Errorf("ChunkSizeFor(%d) = %d, want %d", tt.expected, got, tt.want)
			}
		})
	}
}

func intTextSchema(schema, name string) adapter.TableSchema {
	return adapter.TableSchema{
		Ref: adapter.TableRef{Schema: schema, Name: name},
		Columns: []adapter.Column{
			{Name: "id", DataType: "integer"},
			{Name: "name", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}
}

func seededPair(rows int) (*fake.Adapter, *fake.Adapter, adapter.TableRef) {
	ref := adapter.TableRef{Schema: "public", Name: "customers"}
	ts := intTextSchema("public", "customers")

	source := fake.New("src")
	source.AddTable(ts, fake.SeedRows(rows, ts.Columns))

	target := fake.New("dst")
	target.AddTable(ts, nil)
	return source, target, ref
}

func TestCopyTable(t *testing.T) {
	source, target, ref := seededPair(150)
	eng := New(source, target, nil)

	res := eng.CopyTable(context.Background(), ref, ref, nil)
	if res.Status != StatusSuccess {
		t.Fatalf("copy failed: %s", res.Error)
	}
	if res.RowsCopied != 150 {
		t.Errorf("rows copied = %d, want 150", res.RowsCopied)
	}
	if got := len(target.Rows(ref)); got != 150 {
		t.Errorf("target has %d rows, want 150", got)
	}
}

func TestCopyTableIdempotent(t *testing.T) {
	source, target, ref := seededPair(120)
	eng := New(source, target, nil)

	for i := 0; i < 3; i++ {
		res := eng.CopyTable(context.Background(), ref, ref, nil)
		if res.Status != StatusSuccess {
			t.Fatalf("run %d failed: %s", i, res.Error)
		}
	}
	if got := len(target.Rows(ref)); got != 120 {
		t.Errorf("target has %d rows after repeated copies, want 120", got)
	}
}

func TestCopyTableProgress(t *testing.T) {
	source, target, ref := seededPair(2500)
	eng := New(source, target, nil)

	var calls []int64
	var lastCopied int64
	res := eng.CopyTable(context.Background(), ref, ref,
		func(table adapter.TableRef, copied, chunk, expected int64) {
			calls = append(calls, chunk)
			if copied <= lastCopied {
				t.Errorf("cumulative copied went backwards: %d after %d", copied, lastCopied)
			}
			lastCopied = copied
			if expected != 2500 {
				t.Errorf("expected total = %d, want 2500", expected)
			}
		})
	if res.Status != StatusSuccess {
		t.Fatalf("copy failed: %s", res.Error)
	}

	// 2500 rows at chunk size 1250 is two chunks.
	if len(calls) != 2 {
		t.Errorf("progress calls = %d, want 2", len(calls))
	}
	if lastCopied != 2500 {
		t.Errorf("final cumulative = %d, want 2500", lastCopied)
	}
}

func TestReconcileColumns(t *testing.T) {
	ref := adapter.TableRef{Name: "t"}

	t.Run("exact case-insensitive match", func(t *testing.T) {
		insert, positional, err := reconcileColumns(ref,
			[]string{"id", "Name"}, []string{"ID", "name"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if positional {
			t.Error("full match should not fall back to positional")
		}
		if insert[0] != "ID" || insert[1] != "name" {
			t.Errorf("insert columns should use target spelling: %v", insert)
		}
	})

	t.Run("positional fallback on equal arity", func(t *testing.T) {
		insert, positional, err := reconcileColumns(ref,
			[]string{"a", "b", "c"}, []string{"a", "b", "x"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !positional {
			t.Error("expected positional fallback")
		}
		if len(insert) != 3 || insert[2] != "x" {
			t.Errorf("positional mapping should use target order: %v", insert)
		}
	})

	t.Run("hard mismatch on different arity", func(t *testing.T) {
		_, _, err := reconcileColumns(ref,
			[]string{"a", "b", "c"}, []string{"a", "b"})
		var mismatch *ColumnMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("expected ColumnMismatchError, got %v", err)
		}
		if len(mismatch.Missing) != 1 || mismatch.Missing[0] != "c" {
			t.Errorf("missing = %v, want [c]", mismatch.Missing)
		}
	})
}

func TestCopyTableMismatchLeavesTargetUntouched(t *testing.T) {
	ref := adapter.TableRef{Schema: "public", Name: "t"}

	source := fake.New("src")
	source.AddTable(adapter.TableSchema{
		Ref: ref,
		Columns: []adapter.Column{
			{Name: "a", DataType: "integer"},
			{Name: "b", DataType: "text"},
			{Name: "c", DataType: "text"},
		},
	}, [][]any{{int64(1), "x", "y"}})

	target := fake.New("dst")
	target.AddTable(adapter.TableSchema{
		Ref: ref,
		Columns: []adapter.Column{
			{Name: "a", DataType: "integer"},
			{Name: "b", DataType: "text"},
		},
	}, [][]any{{int64(9), "sentinel"}})

	res := New(source, target, nil).CopyTable(context.Background(), ref, ref, nil)

	if res.Status != StatusError {
		t.Fatal("expected mismatch failure")
	}
	var mismatch *ColumnMismatchError
	if !errors.As(res.Err, &mismatch) {
		t.Fatalf("expected ColumnMismatchError, got %v", res.Err)
	}
	// Reconciliation happens before truncation, so the failed table keeps
	// its previous contents.
	if got := len(target.Rows(ref)); got != 1 {
		t.Errorf("target rows = %d, want sentinel row preserved", got)
	}
}

func TestCopyContinuesPastFailedTable(t *testing.T) {
	refA := adapter.TableRef{Schema: "public", Name: "a"}
	refB := adapter.TableRef{Schema: "public", Name: "b"}

	tsA := intTextSchema("public", "a")
	tsB := intTextSchema("public", "b")

	source := fake.New("src")
	source.AddTable(tsA, fake.SeedRows(50, tsA.Columns))
	source.AddTable(tsB, fake.SeedRows(30, tsB.Columns))

	target := fake.New("dst")
	target.AddTable(tsA, nil)
	target.AddTable(tsB, nil)
	target.FailInsert[refA.Key()] = errors.New("disk full")

	report := New(source, target, nil).Copy(context.Background(),
		[]Pair{{Source: refA}, {Source: refB}}, nil)

	if report.AllOK() {
		t.Error("report should not be all-OK")
	}
	if !report.AnyOK() {
		t.Error("second table should still have copied")
	}
	if report.MigratedRows != 30 {
		t.Errorf("migrated rows = %d, want 30", report.MigratedRows)
	}
	if report.FailedRows != 50 {
		t.Errorf("failed rows = %d, want the failed table's expected 50", report.FailedRows)
	}
	if report.FirstError() == "" {
		t.Error("first error summary should be set")
	}
	if got := len(target.Rows(refB)); got != 30 {
		t.Errorf("surviving table rows = %d, want 30", got)
	}
}

func TestCopyTableColumnSelection(t *testing.T) {
	ref := adapter.TableRef{Schema: "public", Name: "t"}
	ts := adapter.TableSchema{
		Ref: ref,
		Columns: []adapter.Column{
			{Name: "id", DataType: "integer"},
			{Name: "secret", DataType: "text"},
			{Name: "name", DataType: "text"},
		},
	}

	source := fake.New("src")
	source.AddTable(ts, [][]any{{int64(1), "hidden", "alice"}})
	target := fake.New("dst")
	target.AddTable(ts, nil)

	sel := selection.New()
	sel.AddTable(ref)
	sel.SetColumns(ref, []string{"id", "name"})

	res := New(source, target, sel).CopyTable(context.Background(), ref, ref, nil)
	if res.Status != StatusSuccess {
		t.Fatalf("copy failed: %s", res.Error)
	}

	rows := target.Rows(ref)
	if len(rows) != 1 {
		t.Fatalf("target rows = %d, want 1", len(rows))
	}
	// The unselected column stays empty; selected values land by name.
	if rows[0][0] != int64(1) || rows[0][2] != "alice" {
		t.Errorf("selected columns not copied: %v", rows[0])
	}
	if rows[0][1] != nil {
		t.Errorf("unselected column should stay empty, got %v", rows[0][1])
	}
}
