package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dbferry/internal/adapter"
	"dbferry/internal/adapter/fake"
	"dbferry/internal/runstate"
	"dbferry/internal/selection"
)

func ordersSchema() adapter.TableSchema {
	return adapter.TableSchema{
		Ref: adapter.TableRef{Schema: "public", Name: "orders"},
		Columns: []adapter.Column{
			{Name: "id", DataType: "integer"},
			{Name: "name", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}
}

func newEngine(t *testing.T, source, target adapter.Adapter, sel *selection.Model) *Engine {
	t.Helper()
	store, err := runstate.New(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(source, target, sel, store, Options{
		SourceID: "src", TargetID: "dst", SampleLimit: 100,
	})
}

// seedPair builds a source holding rows rows of the orders table and a target
// that knows how to create it.
func seedPair(t *testing.T, rows int) (*fake.Adapter, *fake.Adapter) {
	t.Helper()
	ts := ordersSchema()
	source := fake.New("src")
	source.AddTable(ts, fake.SeedRows(rows, ts.Columns))

	target := fake.New("dst")
	target.CreateSchemas[strings.ToLower(ts.Ref.Name)] = ts
	return source, target
}

func TestRunEndToEnd(t *testing.T) {
	source, target := seedPair(t, 150)
	eng := newEngine(t, source, target, nil)

	report, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report == nil {
		t.Fatal("Run should return the validation report")
	}

	run, err := eng.store.GetRun(eng.RunID())
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v, %v", run, err)
	}
	if run.Status != runstate.StatusSuccess {
		t.Errorf("run status = %s, want success", run.Status)
	}
	if run.MigratedRows != 150 || run.FailedRows != 0 {
		t.Errorf("row totals = %d/%d, want 150/0", run.MigratedRows, run.FailedRows)
	}

	ref := adapter.TableRef{Schema: "public", Name: "orders"}
	if got := len(target.Rows(ref)); got != 150 {
		t.Errorf("target rows = %d, want 150", got)
	}

	stored, err := eng.ValidationReport()
	if err != nil || stored == "" {
		t.Errorf("validation report should be persisted, got %q, %v", stored, err)
	}

	// Per-table progress is ephemeral and cleared at phase end.
	if snap := eng.progress.Snapshot(); len(snap) != 0 {
		t.Errorf("progress map not cleared: %v", snap)
	}

	outcomes, _ := eng.store.TableOutcomes(eng.RunID())
	if len(outcomes) != 1 || outcomes[0].RowsCopied != 150 {
		t.Errorf("table outcomes = %+v", outcomes)
	}
}

func TestStartDataRequiresStructure(t *testing.T) {
	source, target := seedPair(t, 10)
	eng := newEngine(t, source, target, nil)

	if _, err := eng.BeginRun(); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := eng.StartData(context.Background()); err != ErrStructureIncomplete {
		t.Errorf("err = %v, want ErrStructureIncomplete", err)
	}
}

func TestBeginRunRejectsInFlightTask(t *testing.T) {
	source, target := seedPair(t, 10)
	eng := newEngine(t, source, target, nil)

	if _, err := eng.BeginRun(); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	// Simulate an in-flight phase; the fakes finish too fast to catch one.
	eng.mu.Lock()
	eng.structureTask = newTask()
	eng.mu.Unlock()

	if _, err := eng.BeginRun(); err != ErrAlreadyRunning {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
	if _, err := eng.StartStructure(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("StartStructure err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStructurePhaseRunsOnce(t *testing.T) {
	source, target := seedPair(t, 10)
	eng := newEngine(t, source, target, nil)

	eng.BeginRun()
	task, err := eng.StartStructure(context.Background())
	if err != nil {
		t.Fatalf("StartStructure: %v", err)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("structure phase: %v", err)
	}

	_, err = eng.StartStructure(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already ran") {
		t.Errorf("second structure phase should be rejected, got %v", err)
	}
}

func TestStructureHardFailure(t *testing.T) {
	source, target := seedPair(t, 10)
	target.FailCreate["orders"] = errors.New("permission denied")
	eng := newEngine(t, source, target, nil)

	eng.BeginRun()
	task, _ := eng.StartStructure(context.Background())
	if err := task.Wait(); err == nil {
		t.Fatal("hard failure should surface as a task error")
	}

	run, _ := eng.store.GetRun(eng.RunID())
	if run.Status != runstate.StatusFailedStructure {
		t.Errorf("run status = %s, want failed_structure", run.Status)
	}
	if _, err := eng.StartData(context.Background()); err != ErrStructureIncomplete {
		t.Errorf("data gate should stay shut, got %v", err)
	}
}

func TestPartialDataRun(t *testing.T) {
	good := ordersSchema()
	bad := adapter.TableSchema{
		Ref: adapter.TableRef{Schema: "public", Name: "payments"},
		Columns: []adapter.Column{
			{Name: "id", DataType: "integer"},
			{Name: "name", DataType: "text"},
		},
	}

	source := fake.New("src")
	source.AddTable(good, fake.SeedRows(40, good.Columns))
	source.AddTable(bad, fake.SeedRows(25, bad.Columns))

	target := fake.New("dst")
	target.CreateSchemas["orders"] = good
	target.CreateSchemas["payments"] = bad
	target.FailInsert[bad.Ref.Key()] = errors.New("disk full")

	eng := newEngine(t, source, target, nil)

	eng.BeginRun()
	st, _ := eng.StartStructure(context.Background())
	if err := st.Wait(); err != nil {
		t.Fatalf("structure phase: %v", err)
	}

	dt, err := eng.StartData(context.Background())
	if err != nil {
		t.Fatalf("StartData: %v", err)
	}
	if err := dt.Wait(); err == nil {
		t.Error("partial copy should surface as a task error")
	}

	run, _ := eng.store.GetRun(eng.RunID())
	if run.Status != runstate.StatusPartial {
		t.Errorf("run status = %s, want partial", run.Status)
	}
	if run.MigratedRows != 40 || run.FailedRows != 25 {
		t.Errorf("row totals = %d/%d, want 40/25", run.MigratedRows, run.FailedRows)
	}

	status := eng.DataStatus()
	if status.State != "failed" || status.Error == "" {
		t.Errorf("data status = %+v, want failed with summary", status)
	}
}

func TestAdoptStructure(t *testing.T) {
	t.Run("adopts existing target tables", func(t *testing.T) {
		ts := ordersSchema()
		source := fake.New("src")
		source.AddTable(ts, fake.SeedRows(20, ts.Columns))
		target := fake.New("dst")
		target.AddTable(ts, nil)

		eng := newEngine(t, source, target, nil)
		eng.BeginRun()

		if err := eng.AdoptStructure(context.Background()); err != nil {
			t.Fatalf("AdoptStructure: %v", err)
		}

		dt, err := eng.StartData(context.Background())
		if err != nil {
			t.Fatalf("StartData after adopt: %v", err)
		}
		if err := dt.Wait(); err != nil {
			t.Fatalf("data phase: %v", err)
		}
		if got := len(target.Rows(ts.Ref)); got != 20 {
			t.Errorf("target rows = %d, want 20", got)
		}
	})

	t.Run("rejects missing target table", func(t *testing.T) {
		ts := ordersSchema()
		source := fake.New("src")
		source.AddTable(ts, nil)
		target := fake.New("dst") // table never created

		eng := newEngine(t, source, target, nil)
		eng.BeginRun()

		err := eng.AdoptStructure(context.Background())
		if err == nil || !strings.Contains(err.Error(), "not present on target") {
			t.Errorf("err = %v, want missing-table rejection", err)
		}
	})
}

func TestApplyRenamesRequiresData(t *testing.T) {
	source, target := seedPair(t, 10)
	eng := newEngine(t, source, target, nil)
	eng.BeginRun()

	if _, err := eng.ApplyRenames(context.Background()); err != ErrDataIncomplete {
		t.Errorf("err = %v, want ErrDataIncomplete", err)
	}
}

func TestPhaseStatusLifecycle(t *testing.T) {
	source, target := seedPair(t, 10)
	eng := newEngine(t, source, target, nil)

	if st := eng.StructureStatus(); st.State != "idle" {
		t.Errorf("initial structure state = %s, want idle", st.State)
	}
	if st := eng.DataStatus(); st.State != "idle" {
		t.Errorf("initial data state = %s, want idle", st.State)
	}

	eng.BeginRun()
	st, _ := eng.StartStructure(context.Background())
	st.Wait()

	status := eng.StructureStatus()
	if status.State != "complete" || status.Created != 1 || status.Attempted != 1 {
		t.Errorf("structure status = %+v, want complete 1/1", status)
	}
}
