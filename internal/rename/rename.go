// Package rename applies pending column renames on the target after data
// copy completes, then verifies each rename actually took effect.
package rename

import (
	"context"
	"fmt"
	"strings"

	"dbferry/internal/adapter"
	"dbferry/internal/logging"
	"dbferry/internal/selection"
)

// Result reports one rename attempt. NewPresent and OldAbsent are verified
// independently by re-reading the target's column list: a rename that
// "succeeds" per the adapter but leaves the old name visible (a view, say)
// is reported as failed.
type Result struct {
	Table      adapter.TableRef `json:"table"`
	Old        string           `json:"old"`
	New        string           `json:"new"`
	RenameOK   bool             `json:"rename_ok"`
	NewPresent bool             `json:"new_present"`
	OldAbsent  bool             `json:"old_absent"`
	Error      string           `json:"error,omitempty"`
}

// OK reports whether the rename fully took effect.
func (r *Result) OK() bool {
	return r.RenameOK && r.NewPresent && r.OldAbsent
}

// Apply performs every pending rename in the selection against the target.
func Apply(ctx context.Context, target adapter.Adapter, sel *selection.Model) []Result {
	var results []Result

	for _, ref := range sel.RenameTables() {
		for old, new := range sel.RenamesFor(ref) {
			results = append(results, applyOne(ctx, target, ref, old, new))
		}
	}
	return results
}

func applyOne(ctx context.Context, target adapter.Adapter, ref adapter.TableRef, old, new string) Result {
	res := Result{Table: ref, Old: old, New: new}

	if err := target.RenameColumn(ctx, ref, old, new); err != nil {
		res.Error = fmt.Sprintf("rename call failed: %v", err)
		logging.Error("Rename %s.%s -> %s: %v", ref, old, new, err)
		return res
	}
	res.RenameOK = true

	cols, err := target.TableColumns(ctx, ref)
	if err != nil {
		res.Error = fmt.Sprintf("verifying rename: %v", err)
		return res
	}

	for _, c := range cols {
		if strings.EqualFold(c.Name, new) {
			res.NewPresent = true
		}
	}
	res.OldAbsent = true
	for _, c := range cols {
		if strings.EqualFold(c.Name, old) {
			res.OldAbsent = false
		}
	}

	if !res.OK() {
		res.Error = fmt.Sprintf("rename reported success but verification failed (new present=%t, old absent=%t)",
			res.NewPresent, res.OldAbsent)
		logging.Warn("Rename %s.%s -> %s: %s", ref, old, new, res.Error)
	} else {
		logging.Info("Renamed %s.%s -> %s", ref, old, new)
	}
	return res
}
