// Package datacopy streams rows table-by-table from source to target in
// bounded chunks. Copies are idempotent (truncate-then-insert) and one
// table's failure never stops the loop over the remaining tables.
package datacopy

import (
	"context"
	"fmt"
	"strings"

	"dbferry/internal/adapter"
	"dbferry/internal/logging"
	"dbferry/internal/selection"
)

const (
	// DefaultChunkSize is used when the source row count is unknown.
	DefaultChunkSize = 10000

	// MinChunkSize is the floor for the computed chunk size. Tables under
	// twice this size move in a single chunk so per-batch round trips do
	// not dominate total time.
	MinChunkSize = 1000
)

// Status is the per-table copy outcome.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
)

// ColumnMismatchError means the source and target column sets cannot be
// reconciled. It is fatal for the affected table only.
type ColumnMismatchError struct {
	Table   adapter.TableRef
	Missing []string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("column mismatch on %s: source columns %v have no match in target",
		e.Table, e.Missing)
}

// CopyError wraps any other failure mid-copy, table-level and isolated.
type CopyError struct {
	Table adapter.TableRef
	Err   error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copying %s: %v", e.Table, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// Pair names a table on both sides. Target defaults to the source ref when
// zero.
type Pair struct {
	Source adapter.TableRef
	Target adapter.TableRef
}

// ProgressFunc receives cumulative rows copied and the size of the chunk
// that just committed.
type ProgressFunc func(table adapter.TableRef, copied, chunk, expected int64)

// TableResult is the outcome of one table's copy.
type TableResult struct {
	Source     adapter.TableRef
	Target     adapter.TableRef
	Status     Status
	RowsCopied int64
	Expected   int64
	Positional bool // column reconciliation fell back to positional mapping
	Error      string
	Err        error
}

// Report aggregates the whole data phase.
type Report struct {
	Results      []TableResult
	MigratedRows int64 // rows from successful tables
	FailedRows   int64 // rows attempted on failed tables
}

// AllOK reports whether every table copied successfully.
func (r *Report) AllOK() bool {
	for _, t := range r.Results {
		if t.Status == StatusError {
			return false
		}
	}
	return true
}

// AnyOK reports whether at least one table copied successfully.
func (r *Report) AnyOK() bool {
	for _, t := range r.Results {
		if t.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// FirstError returns the first table error message for status summaries.
func (r *Report) FirstError() string {
	for _, t := range r.Results {
		if t.Status == StatusError {
			return t.Error
		}
	}
	return ""
}

// Engine copies data between two adapters.
type Engine struct {
	source adapter.Adapter
	target adapter.Adapter
	sel    *selection.Model
}

// New creates a copy engine.
func New(source, target adapter.Adapter, sel *selection.Model) *Engine {
	if sel == nil {
		sel = selection.New()
	}
	return &Engine{source: source, target: target, sel: sel}
}

// ChunkSizeFor derives the chunk size from the expected row count: half the
// table, clamped to [MinChunkSize, DefaultChunkSize]. Unknown counts get the
// default. Small tables end up as a single chunk; large tables stream in
// bounded batches to cap memory and transaction size.
func ChunkSizeFor(expected int64) int {
	if expected <= 0 {
		return DefaultChunkSize
	}
	half := expected / 2
	if half < MinChunkSize {
		return MinChunkSize
	}
	if half > DefaultChunkSize {
		return DefaultChunkSize
	}
	return int(half)
}

// Copy moves every table pair sequentially, in order. A failed table is
// recorded and the loop continues.
func (e *Engine) Copy(ctx context.Context, pairs []Pair, onProgress ProgressFunc) *Report {
	report := &Report{}

	for _, p := range pairs {
		if p.Target == (adapter.TableRef{}) {
			p.Target = p.Source
		}

		res := e.CopyTable(ctx, p.Source, p.Target, onProgress)
		report.Results = append(report.Results, *res)

		if res.Status == StatusSuccess {
			report.MigratedRows += res.RowsCopied
		} else {
			// Count what we set out to move for this table.
			if res.Expected > 0 {
				report.FailedRows += res.Expected
			} else {
				report.FailedRows += res.RowsCopied
			}
		}
	}

	return report
}

// CopyTable copies all rows of one table. Repeated invocations converge to
// the same final content: the target is truncated before the first chunk.
func (e *Engine) CopyTable(ctx context.Context, src, dst adapter.TableRef, onProgress ProgressFunc) *TableResult {
	res := &TableResult{Source: src, Target: dst, Status: StatusSuccess}

	fail := func(err error) *TableResult {
		res.Status = StatusError
		res.Err = err
		res.Error = err.Error()
		logging.Error("%v", err)
		return res
	}

	// Row-count probe. Never touches the target.
	expected, err := e.source.RowCount(ctx, src)
	if err != nil {
		return fail(&CopyError{Table: src, Err: fmt.Errorf("row count probe: %w", err)})
	}
	res.Expected = expected
	chunkSize := ChunkSizeFor(expected)

	// Resolve the source columns to move.
	srcCols, err := e.source.TableColumns(ctx, src)
	if err != nil {
		return fail(&CopyError{Table: src, Err: fmt.Errorf("describing source: %w", err)})
	}
	sourceNames := columnNames(srcCols)
	if selected, restricted := e.sel.ColumnsFor(src); restricted {
		sourceNames = filterSelected(sourceNames, selected)
	}
	if len(sourceNames) == 0 {
		return fail(&CopyError{Table: src, Err: fmt.Errorf("no columns to copy")})
	}

	tgtCols, err := e.target.TableColumns(ctx, dst)
	if err != nil {
		return fail(&CopyError{Table: dst, Err: fmt.Errorf("describing target: %w", err)})
	}

	insertCols, positional, err := reconcileColumns(dst, sourceNames, columnNames(tgtCols))
	if err != nil {
		return fail(err)
	}
	res.Positional = positional
	if positional {
		logging.Warn("Table %s: no exact column match, falling back to positional mapping", dst)
	}

	// Idempotent replace: truncate, not drop, before the first chunk.
	if err := e.target.TruncateTable(ctx, dst); err != nil {
		return fail(&CopyError{Table: dst, Err: fmt.Errorf("truncating: %w", err)})
	}

	stream, err := e.source.OpenRows(ctx, src, sourceNames, "")
	if err != nil {
		return fail(&CopyError{Table: src, Err: fmt.Errorf("opening row stream: %w", err)})
	}
	defer stream.Close()

	var copied int64
	for {
		rows, err := stream.Next(chunkSize)
		if err != nil {
			res.RowsCopied = copied
			return fail(&CopyError{Table: src, Err: fmt.Errorf("fetching chunk: %w", err)})
		}
		if len(rows) == 0 {
			break
		}

		// Rows arrive in source column order, which reconcileColumns has
		// already aligned with insertCols; no per-row shuffle needed.
		if err := e.target.InsertChunk(ctx, dst, insertCols, rows); err != nil {
			res.RowsCopied = copied
			return fail(&CopyError{Table: dst, Err: fmt.Errorf("inserting chunk: %w", err)})
		}

		copied += int64(len(rows))
		if onProgress != nil {
			onProgress(dst, copied, int64(len(rows)), expected)
		}

		if len(rows) < chunkSize {
			break
		}
	}

	res.RowsCopied = copied
	if expected > 0 && copied != expected {
		logging.Warn("Table %s: copied %d rows, source reported %d at probe time", dst, copied, expected)
	}
	logging.Info("Copied %s: %d rows", dst, copied)
	return res
}

// reconcileColumns builds the insert column list by matching source names
// to target names case-insensitively. When some source column has no match
// but the counts line up, the engine falls back to positional mapping
// instead of failing; a count mismatch with missing columns is a hard
// per-table failure.
func reconcileColumns(table adapter.TableRef, source, target []string) (insert []string, positional bool, err error) {
	insert = make([]string, len(source))
	var missing []string

	for i, s := range source {
		matched := ""
		for _, t := range target {
			if strings.EqualFold(s, t) {
				matched = t
				break
			}
		}
		if matched == "" {
			missing = append(missing, s)
			continue
		}
		insert[i] = matched
	}

	if len(missing) == 0 {
		return insert, false, nil
	}

	if len(target) == len(source) {
		// Same arity: trust position over names.
		return append([]string(nil), target...), true, nil
	}

	return nil, false, &ColumnMismatchError{Table: table, Missing: missing}
}

func columnNames(cols []adapter.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// filterSelected keeps the selected columns in their selected order,
// dropping any that do not exist on the source.
func filterSelected(available, selected []string) []string {
	var out []string
	for _, s := range selected {
		if selection.ContainsFold(available, s) {
			out = append(out, s)
		}
	}
	return out
}
