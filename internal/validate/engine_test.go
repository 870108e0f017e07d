package validate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dbferry/internal/adapter"
	"dbferry/internal/adapter/fake"
	"dbferry/internal/selection"
)

func check(tr TableReport, name string) *Check {
	for i := range tr.Checks {
		if tr.Checks[i].Name == name {
			return &tr.Checks[i]
		}
	}
	return nil
}

func customerSchema() adapter.TableSchema {
	return adapter.TableSchema{
		Ref: adapter.TableRef{Schema: "public", Name: "customers"},
		Columns: []adapter.Column{
			{Name: "id", DataType: "varchar", Length: 10},
			{Name: "name", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}
}

func rowsFor(keys ...string) [][]any {
	rows := make([][]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k, "name-" + k}
	}
	return rows
}

func TestRunIdenticalTables(t *testing.T) {
	ts := customerSchema()
	rows := rowsFor("a", "b", "c")

	source := fake.New("src")
	source.AddTable(ts, rows)
	target := fake.New("dst")
	target.AddTable(ts, rows)

	report, err := New(source, target, nil, 100).Run(context.Background(),
		[]Pair{{Source: ts.Ref}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(report.Tables))
	}
	tr := report.Tables[0]
	if tr.Summary.Failed != 0 {
		t.Errorf("failed checks: %+v", tr.Checks)
	}
	if !tr.RowCountMatch || tr.SourceRowCount != 3 || tr.TargetRowCount != 3 {
		t.Errorf("row counts: source=%d target=%d match=%t",
			tr.SourceRowCount, tr.TargetRowCount, tr.RowCountMatch)
	}
	if report.Summary.OverallAccuracy != 100 {
		t.Errorf("accuracy = %.1f, want 100", report.Summary.OverallAccuracy)
	}

	// The full structural battery plus row_count and row_values.
	wantChecks := []string{
		"column_count", "column_presence", "datatype_compatibility",
		"length_non_shrinkage", "precision_scale", "nullability",
		"default_values", "primary_key", "foreign_key_count",
		"unique_index_count", "index_count", "row_count", "row_values",
	}
	for _, name := range wantChecks {
		c := check(tr, name)
		if c == nil {
			t.Errorf("missing check %s", name)
			continue
		}
		if !c.Passed {
			t.Errorf("check %s failed: %s", name, c.Detail)
		}
	}
}

func TestRunRowCountMismatch(t *testing.T) {
	ts := customerSchema()

	source := fake.New("src")
	source.AddTable(ts, rowsFor("a", "b", "c"))
	target := fake.New("dst")
	target.AddTable(ts, rowsFor("a", "b"))

	report, err := New(source, target, nil, 100).Run(context.Background(),
		[]Pair{{Source: ts.Ref}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := report.Tables[0]
	if tr.RowCountMatch {
		t.Error("row counts differ, match should be false")
	}
	if c := check(tr, "row_values"); c == nil || c.Passed {
		t.Error("missing target rows should fail the row value check")
	}
	// Accuracy is table-level: the single table mismatched, so 0.
	if report.Summary.OverallAccuracy != 0 {
		t.Errorf("accuracy = %.1f, want 0", report.Summary.OverallAccuracy)
	}
}

func TestRunStructuralMismatches(t *testing.T) {
	src := customerSchema()
	dst := customerSchema()
	dst.Columns[1].DataType = "bytea"  // text vs binary family
	dst.Columns[0].Length = 5          // shrunk
	dst.PrimaryKey = []string{"name"}  // different key

	source := fake.New("src")
	source.AddTable(src, nil)
	target := fake.New("dst")
	target.AddTable(dst, nil)

	report, err := New(source, target, nil, 100).Run(context.Background(),
		[]Pair{{Source: src.Ref}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := report.Tables[0]
	for _, name := range []string{"datatype_compatibility", "length_non_shrinkage", "primary_key"} {
		if c := check(tr, name); c == nil || c.Passed {
			t.Errorf("check %s should fail", name)
		}
	}
	// Counts are structural facts that still line up.
	if c := check(tr, "column_count"); c == nil || !c.Passed {
		t.Error("column_count should pass")
	}
}

func TestRowValueComparisonModes(t *testing.T) {
	ts := customerSchema()

	t.Run("full comparison catches last-row mismatch", func(t *testing.T) {
		source := fake.New("src")
		source.AddTable(ts, rowsFor("a", "b", "c", "d", "e"))

		tampered := rowsFor("a", "b", "c", "d", "e")
		tampered[4][1] = "tampered"
		target := fake.New("dst")
		target.AddTable(ts, tampered)

		report, _ := New(source, target, nil, 5).Run(context.Background(),
			[]Pair{{Source: ts.Ref}})
		tr := report.Tables[0]
		c := check(tr, "row_values")
		if c == nil || c.Passed {
			t.Error("full comparison should catch the mismatch")
		}
		if c != nil && !strings.Contains(c.Detail, "full") {
			t.Errorf("5 rows at limit 5 should compare in full: %s", c.Detail)
		}
	})

	t.Run("sampled comparison misses rows past the limit", func(t *testing.T) {
		source := fake.New("src")
		source.AddTable(ts, rowsFor("a", "b", "c", "d", "e", "f"))

		tampered := rowsFor("a", "b", "c", "d", "e", "f")
		tampered[5][1] = "tampered" // sorts last, beyond the sample
		target := fake.New("dst")
		target.AddTable(ts, tampered)

		report, _ := New(source, target, nil, 5).Run(context.Background(),
			[]Pair{{Source: ts.Ref}})
		tr := report.Tables[0]
		c := check(tr, "row_values")
		if c == nil || !c.Passed {
			t.Error("sampled comparison only covers the first rows")
		}
		if c != nil && !strings.Contains(c.Detail, "sampled") {
			t.Errorf("6 rows at limit 5 should be sampled: %s", c.Detail)
		}
	})

	t.Run("empty table passes vacuously", func(t *testing.T) {
		source := fake.New("src")
		source.AddTable(ts, nil)
		target := fake.New("dst")
		target.AddTable(ts, nil)

		report, _ := New(source, target, nil, 5).Run(context.Background(),
			[]Pair{{Source: ts.Ref}})
		c := check(report.Tables[0], "row_values")
		if c == nil || !c.Passed || c.Detail != "no rows" {
			t.Errorf("empty table should pass with 'no rows', got %+v", c)
		}
	})
}

func TestRunColumnSelection(t *testing.T) {
	ref := adapter.TableRef{Schema: "public", Name: "customers"}
	full := adapter.TableSchema{
		Ref: ref,
		Columns: []adapter.Column{
			{Name: "id", DataType: "varchar", Length: 10},
			{Name: "name", DataType: "text"},
			{Name: "email", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}
	trimmed := adapter.TableSchema{
		Ref: ref,
		Columns: []adapter.Column{
			{Name: "id", DataType: "varchar", Length: 10},
			{Name: "name", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}

	source := fake.New("src")
	source.AddTable(full, [][]any{
		{"a", "name-a", "a@example.com"},
		{"b", "name-b", "b@example.com"},
	})
	target := fake.New("dst")
	target.AddTable(trimmed, [][]any{
		{"a", "name-a"},
		{"b", "name-b"},
	})

	sel := selection.New()
	sel.AddTable(ref)
	sel.SetColumns(ref, []string{"id", "name"})

	report, err := New(source, target, sel, 100).Run(context.Background(),
		[]Pair{{Source: ref}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := report.Tables[0]
	if tr.Summary.Failed != 0 {
		t.Errorf("restricted migration should validate clean, failed checks: %+v", tr.Checks)
	}
	// The dropped column must not count against the target or be fetched
	// from it.
	for _, name := range []string{"column_count", "column_presence", "row_values"} {
		c := check(tr, name)
		if c == nil || !c.Passed {
			t.Errorf("check %s should pass under the selection: %+v", name, c)
		}
	}
	if report.Summary.OverallAccuracy != 100 {
		t.Errorf("accuracy = %.1f, want 100", report.Summary.OverallAccuracy)
	}
}

// fastTarget wraps the fake adapter with a vendor validation shortcut.
type fastTarget struct {
	*fake.Adapter
	report *Report
	err    error
}

func (f *fastTarget) RunValidationChecks(ctx context.Context, source adapter.Adapter, tables []adapter.TableRef) (*Report, error) {
	return f.report, f.err
}

func TestRunFastPath(t *testing.T) {
	ts := customerSchema()
	source := fake.New("src")
	source.AddTable(ts, rowsFor("a"))

	t.Run("delegates when available", func(t *testing.T) {
		canned := &Report{Summary: ReportSummary{TablesMatched: 7}}
		target := &fastTarget{Adapter: fake.New("dst"), report: canned}

		report, err := New(source, target, nil, 100).Run(context.Background(),
			[]Pair{{Source: ts.Ref}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report != canned {
			t.Error("engine should return the vendor fast path report")
		}
	})

	t.Run("falls back on error", func(t *testing.T) {
		target := &fastTarget{Adapter: fake.New("dst"), err: errors.New("not supported")}
		target.AddTable(ts, rowsFor("a"))

		report, err := New(source, target, nil, 100).Run(context.Background(),
			[]Pair{{Source: ts.Ref}})
		if err != nil {
			t.Fatalf("fallback should not error: %v", err)
		}
		if len(report.Tables) != 1 {
			t.Error("fallback should run the generic comparison")
		}
	})
}
