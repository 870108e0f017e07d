// Package engine coordinates the migration phases: structure creation, data
// copy, column renames, and validation. It owns the run lifecycle, the
// single-flight guards, and the progress map that status pollers read.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dbferry/internal/adapter"
	"dbferry/internal/datacopy"
	"dbferry/internal/logging"
	"dbferry/internal/progress"
	"dbferry/internal/rename"
	"dbferry/internal/runstate"
	"dbferry/internal/selection"
	"dbferry/internal/structure"
	"dbferry/internal/validate"
)

var (
	// ErrAlreadyRunning means a second migration task was requested while
	// one is in flight. Requests are rejected, not queued.
	ErrAlreadyRunning = errors.New("migration already running")

	// ErrStructureIncomplete means the data phase was requested before the
	// structure phase finished cleanly.
	ErrStructureIncomplete = errors.New("structure migration not complete")

	// ErrDataIncomplete means renames were requested before data copy
	// finished.
	ErrDataIncomplete = errors.New("data migration not complete")
)

const (
	// structureWait bounds how long the data phase waits for an in-flight
	// structure phase before refusing to start.
	structureWait = 5 * time.Second
	structurePoll = 250 * time.Millisecond
)

// Task is the handle for a background phase. Wait blocks until the phase
// finishes and returns its error.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Wait blocks until the phase completes.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Finished reports whether the phase has completed.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Options configures an engine.
type Options struct {
	SourceID    string
	TargetID    string
	SampleLimit int
}

// ChunkHook observes each committed chunk (for the CLI progress bar).
type ChunkHook func(table adapter.TableRef, copied, chunk, expected int64)

// Engine drives one migration run end to end.
type Engine struct {
	source adapter.Adapter
	target adapter.Adapter
	sel    *selection.Model
	store  *runstate.Store
	opts   Options

	progress  *progress.Map
	chunkHook ChunkHook

	mu            sync.Mutex
	runID         string
	structureTask *Task
	dataTask      *Task
	structResult  *structure.Result
	copyReport    *datacopy.Report
	tables        []adapter.TableRef // extraction order
}

// New creates an engine. The selection may be nil (migrate everything).
func New(source, target adapter.Adapter, sel *selection.Model, store *runstate.Store, opts Options) *Engine {
	if sel == nil {
		sel = selection.New()
	}
	return &Engine{
		source:   source,
		target:   target,
		sel:      sel,
		store:    store,
		opts:     opts,
		progress: progress.NewMap(),
	}
}

// SetChunkHook installs a per-chunk observer. Call before StartData.
func (e *Engine) SetChunkHook(h ChunkHook) {
	e.chunkHook = h
}

// RunID returns the current run's id, empty before BeginRun.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// BeginRun creates a fresh run record. A restarted migration always gets a
// new run; terminal runs are never reused.
func (e *Engine) BeginRun() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.structureTask != nil && !e.structureTask.Finished() {
		return "", ErrAlreadyRunning
	}
	if e.dataTask != nil && !e.dataTask.Finished() {
		return "", ErrAlreadyRunning
	}

	id := uuid.New().String()[:8]
	if err := e.store.CreateRun(id, e.opts.SourceID, e.opts.TargetID); err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}

	e.runID = id
	e.structureTask = nil
	e.dataTask = nil
	e.structResult = nil
	e.copyReport = nil
	e.tables = nil
	e.progress.Clear()

	logging.Info("Starting migration run: %s", id)
	return id, nil
}

// StartStructure launches the structure phase in the background. At most
// one structure task may be in flight per engine.
func (e *Engine) StartStructure(ctx context.Context) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runID == "" {
		return nil, errors.New("no active run - call BeginRun first")
	}
	if e.structureTask != nil && !e.structureTask.Finished() {
		return nil, ErrAlreadyRunning
	}
	if e.structResult != nil {
		return nil, fmt.Errorf("structure phase already ran for run %s - start a new run", e.runID)
	}

	if err := e.store.SetStatus(e.runID, runstate.StatusStructureInProgress); err != nil {
		return nil, err
	}

	task := newTask()
	e.structureTask = task
	go e.runStructure(ctx, task)
	return task, nil
}

func (e *Engine) runStructure(ctx context.Context, task *Task) {
	runID := e.RunID()

	objects, err := e.source.ExtractDDL(ctx, e.sel.Tables())
	if err != nil {
		e.store.CompleteRun(runID, runstate.StatusFailedStructure, 0, 0)
		task.finish(fmt.Errorf("extracting DDL: %w", err))
		return
	}

	// Remember table extraction order for the data phase.
	var tables []adapter.TableRef
	for _, obj := range objects {
		if obj.Kind == adapter.KindTable && e.sel.IncludesTable(obj.Ref()) {
			tables = append(tables, obj.Ref())
		}
	}

	res := structure.New(e.target, e.sel).Migrate(ctx, objects)

	e.mu.Lock()
	e.structResult = res
	e.tables = tables
	e.mu.Unlock()

	switch {
	case res.HardFailure():
		// Nothing usable was created; the run is over.
		e.store.CompleteRun(runID, runstate.StatusFailedStructure, 0, 0)
		task.finish(fmt.Errorf("structure migration failed: %s", res.FirstError()))
	case res.OK():
		e.store.SetStatus(runID, runstate.StatusStructureComplete)
		task.finish(nil)
	default:
		// Partially created: not terminal, but the data gate stays shut.
		task.finish(fmt.Errorf("structure migration incomplete: %s", res.FirstError()))
	}
}

// AdoptStructure verifies the selected tables already exist on the target
// and marks the structure phase complete without creating anything, so the
// data phase can run against a structure created by an earlier run.
func (e *Engine) AdoptStructure(ctx context.Context) error {
	e.mu.Lock()
	if e.runID == "" {
		e.mu.Unlock()
		return errors.New("no active run - call BeginRun first")
	}
	if e.structureTask != nil && !e.structureTask.Finished() {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.mu.Unlock()

	schema, err := e.source.IntrospectSchema(ctx)
	if err != nil {
		return fmt.Errorf("introspecting source: %w", err)
	}

	var tables []adapter.TableRef
	for _, t := range schema.Tables {
		if !e.sel.IncludesTable(t.Ref) {
			continue
		}
		if _, err := e.target.TableColumns(ctx, t.Ref); err != nil {
			return fmt.Errorf("table %s not present on target: %w", t.Ref, err)
		}
		tables = append(tables, t.Ref)
	}

	if err := e.store.SetStatus(e.RunID(), runstate.StatusStructureComplete); err != nil {
		return err
	}

	task := newTask()
	task.finish(nil)

	e.mu.Lock()
	e.structureTask = task
	e.structResult = &structure.Result{}
	e.tables = tables
	e.mu.Unlock()
	return nil
}

// StartData launches the data copy phase. The structure phase must have
// completed cleanly; an in-flight structure phase is awaited for a bounded
// interval before the request is refused.
func (e *Engine) StartData(ctx context.Context) (*Task, error) {
	e.mu.Lock()
	if e.dataTask != nil && !e.dataTask.Finished() {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	st := e.structureTask
	e.mu.Unlock()

	if st == nil {
		return nil, ErrStructureIncomplete
	}

	// Readiness gate: bounded wait, not a hard lock.
	deadline := time.Now().Add(structureWait)
	for !st.Finished() {
		if time.Now().After(deadline) {
			return nil, ErrStructureIncomplete
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(structurePoll):
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.structResult == nil || !e.structResult.OK() {
		return nil, ErrStructureIncomplete
	}
	if e.dataTask != nil && !e.dataTask.Finished() {
		return nil, ErrAlreadyRunning
	}

	if err := e.store.SetStatus(e.runID, runstate.StatusDataInProgress); err != nil {
		return nil, err
	}

	task := newTask()
	e.dataTask = task
	go e.runData(ctx, task)
	return task, nil
}

func (e *Engine) runData(ctx context.Context, task *Task) {
	runID := e.RunID()

	e.mu.Lock()
	pairs := make([]datacopy.Pair, len(e.tables))
	for i, t := range e.tables {
		pairs[i] = datacopy.Pair{Source: t, Target: t}
	}
	hook := e.chunkHook
	e.mu.Unlock()

	copier := datacopy.New(e.source, e.target, e.sel)

	onProgress := func(table adapter.TableRef, copied, chunk, expected int64) {
		total := expected
		if total <= 0 {
			total = -1
		}
		e.progress.Update(table.String(), copied, total)
		if hook != nil {
			hook(table, copied, chunk, expected)
		}
	}

	report := copier.Copy(ctx, pairs, onProgress)

	for _, res := range report.Results {
		e.store.SaveTableOutcome(runID, res.Target.String(), string(res.Status), res.RowsCopied, res.Error)
	}
	e.store.MarkDataComplete(runID)

	var status runstate.Status
	switch {
	case report.AllOK():
		status = runstate.StatusSuccess
	case report.AnyOK():
		status = runstate.StatusPartial
	default:
		status = runstate.StatusFailed
	}
	e.store.CompleteRun(runID, status, report.MigratedRows, report.FailedRows)

	e.mu.Lock()
	e.copyReport = report
	e.mu.Unlock()

	// TableProgress is ephemeral: cleared once the phase completes.
	e.progress.Clear()

	if report.AllOK() {
		task.finish(nil)
	} else {
		task.finish(fmt.Errorf("data migration %s: %s", status, report.FirstError()))
	}
}

// PhaseStatus is the polling payload for one phase.
type PhaseStatus struct {
	State        string                            `json:"state"` // idle, running, complete, failed
	Error        string                            `json:"error,omitempty"`
	Created      int                               `json:"created,omitempty"`
	Attempted    int                               `json:"attempted,omitempty"`
	Tables       map[string]progress.TableProgress `json:"tables,omitempty"`
	MigratedRows int64                             `json:"migrated_rows,omitempty"`
	FailedRows   int64                             `json:"failed_rows,omitempty"`
}

// StructureStatus reports the structure phase state. The error field holds
// the first-error summary, never a raw trace.
func (e *Engine) StructureStatus() PhaseStatus {
	e.mu.Lock()
	task := e.structureTask
	res := e.structResult
	e.mu.Unlock()

	if task == nil {
		return PhaseStatus{State: "idle"}
	}
	if !task.Finished() {
		return PhaseStatus{State: "running"}
	}
	st := PhaseStatus{State: "complete"}
	if res != nil {
		st.Created = res.Created
		st.Attempted = res.Attempted
		if !res.OK() {
			st.State = "failed"
			st.Error = res.FirstError()
		}
	} else if task.err != nil {
		st.State = "failed"
		st.Error = task.err.Error()
	}
	return st
}

// DataStatus reports the data phase state plus live per-table progress.
func (e *Engine) DataStatus() PhaseStatus {
	e.mu.Lock()
	task := e.dataTask
	report := e.copyReport
	e.mu.Unlock()

	if task == nil {
		return PhaseStatus{State: "idle"}
	}
	if !task.Finished() {
		return PhaseStatus{State: "running", Tables: e.progress.Snapshot()}
	}

	st := PhaseStatus{State: "complete"}
	if report != nil {
		st.MigratedRows = report.MigratedRows
		st.FailedRows = report.FailedRows
		if !report.AllOK() {
			st.State = "failed"
			st.Error = report.FirstError()
		}
	}
	return st
}

// CopyReport returns the data phase report, nil while the phase is running.
func (e *Engine) CopyReport() *datacopy.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyReport
}

// ApplyRenames runs the pending column renames. Only valid after the data
// phase has completed.
func (e *Engine) ApplyRenames(ctx context.Context) ([]rename.Result, error) {
	e.mu.Lock()
	task := e.dataTask
	e.mu.Unlock()

	if task == nil || !task.Finished() {
		return nil, ErrDataIncomplete
	}
	return rename.Apply(ctx, e.target, e.sel), nil
}

// RunValidation compares source and target and persists the report for the
// current run. It reads both stores independently and can run standalone,
// without a prior copy phase in this process.
func (e *Engine) RunValidation(ctx context.Context) (*validate.Report, error) {
	pairs, err := e.validationPairs(ctx)
	if err != nil {
		return nil, err
	}

	v := validate.New(e.source, e.target, e.sel, e.opts.SampleLimit)
	report, err := v.Run(ctx, pairs)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()
	if runID != "" {
		if err := e.store.SaveValidationReport(runID, report); err != nil {
			logging.Warn("Persisting validation report: %v", err)
		}
	}
	return report, nil
}

// ValidationReport returns the persisted report JSON for the current run.
func (e *Engine) ValidationReport() (string, error) {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()
	if runID == "" {
		return "", errors.New("no active run")
	}
	return e.store.ValidationReport(runID)
}

func (e *Engine) validationPairs(ctx context.Context) ([]validate.Pair, error) {
	e.mu.Lock()
	tables := e.tables
	e.mu.Unlock()

	if len(tables) == 0 {
		// No structure phase ran in this process: derive from the source.
		schema, err := e.source.IntrospectSchema(ctx)
		if err != nil {
			return nil, fmt.Errorf("introspecting source: %w", err)
		}
		for _, t := range schema.Tables {
			if e.sel.IncludesTable(t.Ref) {
				tables = append(tables, t.Ref)
			}
		}
	}

	pairs := make([]validate.Pair, len(tables))
	for i, t := range tables {
		pairs[i] = validate.Pair{Source: t, Target: t}
	}
	return pairs, nil
}

// Run executes the whole pipeline: structure, data, renames, validation.
func (e *Engine) Run(ctx context.Context) (*validate.Report, error) {
	if _, err := e.BeginRun(); err != nil {
		return nil, err
	}

	st, err := e.StartStructure(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Wait(); err != nil {
		return nil, err
	}

	dt, err := e.StartData(ctx)
	if err != nil {
		return nil, err
	}
	dataErr := dt.Wait()

	if e.sel.HasRenames() {
		results, err := e.ApplyRenames(ctx)
		if err != nil {
			logging.Warn("Column renames: %v", err)
		}
		for _, r := range results {
			if !r.OK() {
				logging.Warn("Rename %s.%s -> %s failed: %s", r.Table, r.Old, r.New, r.Error)
			}
		}
	}

	report, valErr := e.RunValidation(ctx)
	if dataErr != nil {
		return report, dataErr
	}
	return report, valErr
}
