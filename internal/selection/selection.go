// Package selection models the user-chosen subset of tables, columns, and
// pending column renames. Every downstream phase consults it; all lookups
// are case-insensitive.
package selection

import (
	"strings"

	"dbferry/internal/adapter"
	"dbferry/internal/config"
)

// Model is the migration selection: which tables to move, which columns per
// table, and which columns to rename after data copy.
type Model struct {
	// tables is the ordered list of selected tables. Empty means all.
	tables []adapter.TableRef

	// columns maps TableRef.Key() to the ordered columns to migrate.
	// A table absent from the map migrates all columns.
	columns map[string][]string

	// renames maps TableRef.Key() to old→new column names.
	renames map[string]map[string]string
}

// New returns an empty selection that includes every table and column.
func New() *Model {
	return &Model{
		columns: make(map[string][]string),
		renames: make(map[string]map[string]string),
	}
}

// FromConfig builds a selection from the migration config block.
func FromConfig(mc *config.MigrationConfig) *Model {
	m := New()
	for _, t := range mc.Tables {
		m.AddTable(adapter.ParseTableRef(t))
	}
	for table, cols := range mc.Columns {
		m.SetColumns(adapter.ParseTableRef(table), cols)
	}
	for table, pairs := range mc.Renames {
		ref := adapter.ParseTableRef(table)
		for old, new := range pairs {
			m.AddRename(ref, old, new)
		}
	}
	return m
}

// AddTable appends a table to the selection, ignoring duplicates.
func (m *Model) AddTable(ref adapter.TableRef) {
	for _, t := range m.tables {
		if t.Equal(ref) {
			return
		}
	}
	m.tables = append(m.tables, ref)
}

// Tables returns the selected tables in order. Empty means all tables.
func (m *Model) Tables() []adapter.TableRef {
	return m.tables
}

// IncludesTable reports whether a table is part of the selection. An empty
// selection includes everything.
func (m *Model) IncludesTable(ref adapter.TableRef) bool {
	if len(m.tables) == 0 {
		return true
	}
	for _, t := range m.tables {
		if t.Equal(ref) {
			return true
		}
	}
	return false
}

// SetColumns restricts a table to the given ordered columns.
func (m *Model) SetColumns(ref adapter.TableRef, cols []string) {
	m.columns[ref.Key()] = cols
}

// ColumnsFor returns the selected columns for a table. The second return is
// false when the table has no restriction (migrate all columns).
func (m *Model) ColumnsFor(ref adapter.TableRef) ([]string, bool) {
	cols, ok := m.columns[ref.Key()]
	return cols, ok
}

// IncludesColumn reports whether a column survives the selection for a table.
func (m *Model) IncludesColumn(ref adapter.TableRef, column string) bool {
	cols, ok := m.columns[ref.Key()]
	if !ok {
		return true
	}
	return ContainsFold(cols, column)
}

// AddRename records a pending old→new column rename for a table.
func (m *Model) AddRename(ref adapter.TableRef, old, new string) {
	key := ref.Key()
	if m.renames[key] == nil {
		m.renames[key] = make(map[string]string)
	}
	m.renames[key][old] = new
}

// RenamesFor returns the pending renames for a table (nil if none).
func (m *Model) RenamesFor(ref adapter.TableRef) map[string]string {
	return m.renames[ref.Key()]
}

// HasRenames reports whether any table has pending renames.
func (m *Model) HasRenames() bool {
	for _, pairs := range m.renames {
		if len(pairs) > 0 {
			return true
		}
	}
	return false
}

// RenameTables returns the tables that have pending renames.
func (m *Model) RenameTables() []adapter.TableRef {
	var refs []adapter.TableRef
	for key, pairs := range m.renames {
		if len(pairs) == 0 {
			continue
		}
		refs = append(refs, adapter.ParseTableRef(key))
	}
	return refs
}

// ContainsFold reports whether list contains name, ignoring case.
func ContainsFold(list []string, name string) bool {
	for _, s := range list {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
