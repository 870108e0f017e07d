// Package validate compares structural metadata and data between source and
// target stores: per-table structural checks, exact row counts, then full or
// sampled row-hash comparison.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dbferry/internal/adapter"
	"dbferry/internal/logging"
	"dbferry/internal/selection"
)

// DefaultSampleLimit bounds the row-value comparison per table.
const DefaultSampleLimit = 100

// Check is one independent pass/fail finding for a table.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// TableReport holds every check run against one table pair.
type TableReport struct {
	Source         string  `json:"source"`
	Target         string  `json:"target"`
	SourceRowCount int64   `json:"source_row_count"`
	TargetRowCount int64   `json:"target_row_count"`
	RowCountMatch  bool    `json:"row_count_match"`
	Checks         []Check `json:"checks"`
	Summary        Summary `json:"summary"`
}

// Summary counts check outcomes.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Report is the immutable validation result, persisted once per run.
type Report struct {
	Tables    []TableReport `json:"tables"`
	Summary   ReportSummary `json:"summary"`
	CreatedAt time.Time     `json:"created_at"`
}

// ReportSummary aggregates across tables. OverallAccuracy is the average of
// per-table scores where row-count equality scores 100 and anything else
// scores 0. A coarse table-level metric, not a per-row percentage.
type ReportSummary struct {
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Total           int     `json:"total"`
	TablesMatched   int     `json:"tables_matched"`
	OverallAccuracy float64 `json:"overall_accuracy"`
}

// Pair names a table on both sides; Target defaults to Source.
type Pair struct {
	Source adapter.TableRef
	Target adapter.TableRef
}

// FastPath is the optional vendor-specific validation shortcut. When the
// target adapter implements it, the engine delegates instead of running the
// generic comparison.
type FastPath interface {
	RunValidationChecks(ctx context.Context, source adapter.Adapter, tables []adapter.TableRef) (*Report, error)
}

// Engine compares a source and target store. All checks run over the
// selection's view of each table: a column-restricted migration validates
// the restricted columns, not the full source schema.
type Engine struct {
	source      adapter.Adapter
	target      adapter.Adapter
	sel         *selection.Model
	sampleLimit int
}

// New creates a validation engine. The selection may be nil (validate every
// column); sampleLimit <= 0 uses DefaultSampleLimit.
func New(source, target adapter.Adapter, sel *selection.Model, sampleLimit int) *Engine {
	if sel == nil {
		sel = selection.New()
	}
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}
	return &Engine{source: source, target: target, sel: sel, sampleLimit: sampleLimit}
}

// Run validates every table pair and returns the aggregated report. The
// engine reads from both adapters independently; nothing is written to
// either store.
func (e *Engine) Run(ctx context.Context, pairs []Pair) (*Report, error) {
	if fp, ok := e.target.(FastPath); ok {
		var tables []adapter.TableRef
		for _, p := range pairs {
			tables = append(tables, p.Source)
		}
		report, err := fp.RunValidationChecks(ctx, e.source, tables)
		if err == nil && report != nil {
			return report, nil
		}
		if err != nil {
			logging.Warn("Vendor validation fast path failed, falling back to generic checks: %v", err)
		}
	}

	report := &Report{CreatedAt: time.Now().UTC()}

	for _, p := range pairs {
		if p.Target == (adapter.TableRef{}) {
			p.Target = p.Source
		}
		tr := e.validateTable(ctx, p.Source, p.Target)
		report.Tables = append(report.Tables, tr)

		report.Summary.Passed += tr.Summary.Passed
		report.Summary.Failed += tr.Summary.Failed
		report.Summary.Total += tr.Summary.Total
		if tr.RowCountMatch {
			report.Summary.TablesMatched++
		}
	}

	if n := len(report.Tables); n > 0 {
		report.Summary.OverallAccuracy = float64(report.Summary.TablesMatched) / float64(n) * 100
	}

	logging.Info("Validation: %d/%d checks passed, accuracy %.1f%%",
		report.Summary.Passed, report.Summary.Total, report.Summary.OverallAccuracy)

	return report, nil
}

func (e *Engine) validateTable(ctx context.Context, src, dst adapter.TableRef) TableReport {
	tr := TableReport{Source: src.String(), Target: dst.String()}

	add := func(name string, passed bool, detail string) {
		tr.Checks = append(tr.Checks, Check{Name: name, Passed: passed, Detail: detail})
	}

	srcSchema, err := e.source.DescribeTable(ctx, src)
	if err != nil {
		add("describe_source", false, err.Error())
		tr.finish()
		return tr
	}
	dstSchema, err := e.target.DescribeTable(ctx, dst)
	if err != nil {
		add("describe_target", false, err.Error())
		tr.finish()
		return tr
	}

	srcSchema = projectSchema(srcSchema, e.sel)
	dstSchema = projectSchema(dstSchema, e.sel)

	e.structuralChecks(&tr, srcSchema, dstSchema, add)

	// Row-count check: exact counts from each side.
	srcCount, srcErr := e.source.RowCount(ctx, src)
	dstCount, dstErr := e.target.RowCount(ctx, dst)
	switch {
	case srcErr != nil:
		add("row_count", false, fmt.Sprintf("source count: %v", srcErr))
	case dstErr != nil:
		add("row_count", false, fmt.Sprintf("target count: %v", dstErr))
	default:
		tr.SourceRowCount = srcCount
		tr.TargetRowCount = dstCount
		tr.RowCountMatch = srcCount == dstCount
		add("row_count", tr.RowCountMatch,
			fmt.Sprintf("source=%d target=%d match=%t", srcCount, dstCount, tr.RowCountMatch))
	}

	if srcErr == nil && dstErr == nil {
		e.rowValueCheck(ctx, &tr, src, dst, srcSchema, srcCount, add)
	}

	tr.finish()
	return tr
}

func (tr *TableReport) finish() {
	for _, c := range tr.Checks {
		if c.Passed {
			tr.Summary.Passed++
		} else {
			tr.Summary.Failed++
		}
	}
	tr.Summary.Total = len(tr.Checks)
}

// structuralChecks runs the independent metadata comparisons.
func (e *Engine) structuralChecks(tr *TableReport, src, dst *adapter.TableSchema, add func(string, bool, string)) {
	add("column_count", len(src.Columns) == len(dst.Columns),
		fmt.Sprintf("source=%d target=%d", len(src.Columns), len(dst.Columns)))

	// Column presence plus the per-column comparisons over matched pairs.
	var missing []string
	var typeMismatches, lengthShrunk, precisionIssues, nullWidened, defaultDiffs []string

	for _, sc := range src.Columns {
		tc := findColumn(dst.Columns, sc.Name)
		if tc == nil {
			missing = append(missing, sc.Name)
			continue
		}

		if !compatibleTypes(sc.DataType, tc.DataType) {
			typeMismatches = append(typeMismatches,
				fmt.Sprintf("%s: %s vs %s", sc.Name, sc.DataType, tc.DataType))
		}
		if sc.Length > 0 && tc.Length > 0 && tc.Length < sc.Length {
			lengthShrunk = append(lengthShrunk,
				fmt.Sprintf("%s: %d -> %d", sc.Name, sc.Length, tc.Length))
		}
		if sc.Precision > 0 && tc.Precision > 0 {
			if tc.Precision < sc.Precision || tc.Scale != sc.Scale {
				precisionIssues = append(precisionIssues,
					fmt.Sprintf("%s: (%d,%d) -> (%d,%d)", sc.Name, sc.Precision, sc.Scale, tc.Precision, tc.Scale))
			}
		}
		if !sc.Nullable && tc.Nullable {
			nullWidened = append(nullWidened, sc.Name)
		}
		if normalizeDefault(sc.Default) != normalizeDefault(tc.Default) {
			defaultDiffs = append(defaultDiffs,
				fmt.Sprintf("%s: %q vs %q", sc.Name, sc.Default, tc.Default))
		}
	}

	add("column_presence", len(missing) == 0, joinOrEmpty("missing in target: ", missing))
	add("datatype_compatibility", len(typeMismatches) == 0, joinOrEmpty("", typeMismatches))
	add("length_non_shrinkage", len(lengthShrunk) == 0, joinOrEmpty("", lengthShrunk))
	add("precision_scale", len(precisionIssues) == 0, joinOrEmpty("", precisionIssues))
	add("nullability", len(nullWidened) == 0, joinOrEmpty("NOT NULL widened to nullable: ", nullWidened))
	add("default_values", len(defaultDiffs) == 0, joinOrEmpty("", defaultDiffs))

	add("primary_key", equalFoldSets(src.PrimaryKey, dst.PrimaryKey),
		fmt.Sprintf("source=%v target=%v", src.PrimaryKey, dst.PrimaryKey))
	add("foreign_key_count", src.ForeignKeyCount == dst.ForeignKeyCount,
		fmt.Sprintf("source=%d target=%d", src.ForeignKeyCount, dst.ForeignKeyCount))

	srcUnique, srcTotal := indexCounts(src.Indexes)
	dstUnique, dstTotal := indexCounts(dst.Indexes)
	add("unique_index_count", srcUnique == dstUnique,
		fmt.Sprintf("source=%d target=%d", srcUnique, dstUnique))
	add("index_count", srcTotal == dstTotal,
		fmt.Sprintf("source=%d target=%d", srcTotal, dstTotal))
}

// rowValueCheck compares canonical row hashes pairwise by position, ordered
// by the first column. Tables at or under the sample limit are compared in
// full; larger tables compare only the first sampleLimit rows.
func (e *Engine) rowValueCheck(ctx context.Context, tr *TableReport, src, dst adapter.TableRef, srcSchema *adapter.TableSchema, srcCount int64, add func(string, bool, string)) {
	if srcCount == 0 {
		add("row_values", true, "no rows")
		return
	}

	cols := srcSchema.ColumnNames()
	if len(cols) == 0 {
		add("row_values", false, "source table has no columns")
		return
	}
	orderBy := cols[0]

	sampled := srcCount > int64(e.sampleLimit)
	limit := e.sampleLimit

	srcRows, err := fetchRows(ctx, e.source, src, cols, orderBy, limit)
	if err != nil {
		add("row_values", false, fmt.Sprintf("fetching source rows: %v", err))
		return
	}
	dstRows, err := fetchRows(ctx, e.target, dst, cols, orderBy, limit)
	if err != nil {
		add("row_values", false, fmt.Sprintf("fetching target rows: %v", err))
		return
	}

	mismatches := 0
	n := len(srcRows)
	if len(dstRows) < n {
		mismatches += n - len(dstRows)
		n = len(dstRows)
	}
	for i := 0; i < n; i++ {
		if RowHash(cols, srcRows[i]) != RowHash(cols, dstRows[i]) {
			mismatches++
		}
	}

	mode := "full"
	if sampled {
		mode = fmt.Sprintf("sampled first %d of %d", len(srcRows), srcCount)
	}
	add("row_values", mismatches == 0,
		fmt.Sprintf("%s comparison: %d rows, %d mismatches", mode, len(srcRows), mismatches))
}

// fetchRows reads up to limit ordered rows through the adapter's stream.
func fetchRows(ctx context.Context, a adapter.Adapter, ref adapter.TableRef, cols []string, orderBy string, limit int) ([][]any, error) {
	stream, err := a.OpenRows(ctx, ref, cols, orderBy)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var rows [][]any
	for len(rows) < limit {
		chunk, err := stream.Next(limit - len(rows))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		rows = append(rows, chunk...)
	}
	return rows, nil
}

// projectSchema restricts a schema to the columns the selection migrates
// for its table. Unrestricted tables pass through unchanged; a restricted
// table's primary key is trimmed the same way its columns are.
func projectSchema(ts *adapter.TableSchema, sel *selection.Model) *adapter.TableSchema {
	if _, restricted := sel.ColumnsFor(ts.Ref); !restricted {
		return ts
	}
	out := *ts
	out.Columns = nil
	for _, c := range ts.Columns {
		if sel.IncludesColumn(ts.Ref, c.Name) {
			out.Columns = append(out.Columns, c)
		}
	}
	out.PrimaryKey = nil
	for _, k := range ts.PrimaryKey {
		if sel.IncludesColumn(ts.Ref, k) {
			out.PrimaryKey = append(out.PrimaryKey, k)
		}
	}
	return &out
}

func findColumn(cols []adapter.Column, name string) *adapter.Column {
	for i := range cols {
		if strings.EqualFold(cols[i].Name, name) {
			return &cols[i]
		}
	}
	return nil
}

func equalFoldSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		found := false
		for _, y := range b {
			if strings.EqualFold(x, y) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func indexCounts(indexes []adapter.Index) (unique, total int) {
	for _, idx := range indexes {
		total++
		if idx.Unique {
			unique++
		}
	}
	return unique, total
}

func joinOrEmpty(prefix string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return prefix + strings.Join(items, "; ")
}
