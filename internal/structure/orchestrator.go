// Package structure turns extracted DDL objects into target-creation calls
// and aggregates per-object success and failure. One object's failure never
// blocks the rest.
package structure

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"dbferry/internal/adapter"
	"dbferry/internal/logging"
	"dbferry/internal/selection"
)

// CreationError records one DDL object that failed to apply. It is isolated
// per object and never aborts the phase.
type CreationError struct {
	Object string
	Kind   adapter.ObjectKind
	Err    error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("creating %s %s: %v", e.Kind, e.Object, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// Result aggregates the structure phase outcome.
type Result struct {
	Created      int
	Attempted    int
	AttemptedSQL []string
	Errors       []string
	Skipped      []string
}

// OK reports whether the phase succeeded: no errors and every attempted
// object created (a phase that attempted nothing is vacuously ok).
func (r *Result) OK() bool {
	return len(r.Errors) == 0 && (r.Attempted == 0 || r.Created >= r.Attempted)
}

// HardFailure reports whether nothing usable was created: objects were
// attempted and every one failed. The run cannot continue past this.
func (r *Result) HardFailure() bool {
	return r.Attempted > 0 && r.Created == 0
}

// Err folds the per-object errors into one aggregate error, or nil.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, msg := range r.Errors {
		merr = multierror.Append(merr, fmt.Errorf("%s", msg))
	}
	return merr.ErrorOrNil()
}

// FirstError returns the first error message for status summaries.
func (r *Result) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// Orchestrator applies DDL objects to the target store.
type Orchestrator struct {
	target adapter.Adapter
	sel    *selection.Model
}

// New creates a structure orchestrator.
func New(target adapter.Adapter, sel *selection.Model) *Orchestrator {
	if sel == nil {
		sel = selection.New()
	}
	return &Orchestrator{target: target, sel: sel}
}

// Migrate applies the objects in the given order (sequences before tables
// before views, the extractor's dependency order) and returns the
// aggregated result. Tables restricted by the column selection have their
// target DDL rewritten before creation.
func (o *Orchestrator) Migrate(ctx context.Context, objects []adapter.DDLObject) *Result {
	res := &Result{}

	var tableRefs []adapter.TableRef

	for _, obj := range objects {
		if obj.Kind == adapter.KindTable && !o.sel.IncludesTable(obj.Ref()) {
			res.Skipped = append(res.Skipped, obj.Ref().String())
			continue
		}

		ddl := obj.TargetDDL
		if obj.Kind == adapter.KindTable {
			if cols, restricted := o.sel.ColumnsFor(obj.Ref()); restricted {
				trimmed, err := TrimCreateTable(ddl, cols)
				if err != nil {
					cerr := &CreationError{Object: obj.Ref().String(), Kind: obj.Kind, Err: fmt.Errorf("rewriting DDL: %w", err)}
					res.Errors = append(res.Errors, cerr.Error())
					res.Attempted++
					res.AttemptedSQL = append(res.AttemptedSQL, ddl)
					continue
				}
				ddl = trimmed
			}
		}

		res.Attempted++
		res.AttemptedSQL = append(res.AttemptedSQL, ddl)

		apply := obj
		apply.TargetDDL = ddl
		if err := o.target.CreateObject(ctx, apply); err != nil {
			cerr := &CreationError{Object: obj.Ref().String(), Kind: obj.Kind, Err: err}
			logging.Warn("%v", cerr)
			res.Errors = append(res.Errors, cerr.Error())
			continue
		}

		res.Created++
		if obj.Kind == adapter.KindTable {
			tableRefs = append(tableRefs, obj.Ref())
		}
	}

	// Post-hoc verification: a create call that reported success can still
	// leave nothing behind on some vendors. Any table without columns in
	// the target counts as an additional error.
	for _, ref := range tableRefs {
		cols, err := o.target.TableColumns(ctx, ref)
		if err != nil || len(cols) == 0 {
			msg := fmt.Sprintf("table %s missing after create", ref)
			if err != nil {
				msg = fmt.Sprintf("%s: %v", msg, err)
			}
			res.Errors = append(res.Errors, msg)
		}
	}

	logging.Info("Structure migration: created %d/%d objects, %d errors, %d skipped",
		res.Created, res.Attempted, len(res.Errors), len(res.Skipped))

	return res
}
