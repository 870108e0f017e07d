package selection

import (
	"testing"

	"dbferry/internal/adapter"
	"dbferry/internal/config"
)

func TestIncludesTable(t *testing.T) {
	orders := adapter.TableRef{Schema: "public", Name: "orders"}

	t.Run("empty selection includes everything", func(t *testing.T) {
		m := New()
		if !m.IncludesTable(orders) {
			t.Error("empty selection should include any table")
		}
	})

	t.Run("explicit selection is case-insensitive", func(t *testing.T) {
		m := New()
		m.AddTable(orders)
		if !m.IncludesTable(adapter.TableRef{Schema: "PUBLIC", Name: "Orders"}) {
			t.Error("lookup should ignore case")
		}
		if m.IncludesTable(adapter.TableRef{Schema: "public", Name: "customers"}) {
			t.Error("unselected table should be excluded")
		}
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		m := New()
		m.AddTable(orders)
		m.AddTable(adapter.TableRef{Schema: "Public", Name: "ORDERS"})
		if len(m.Tables()) != 1 {
			t.Errorf("tables = %v, want one entry", m.Tables())
		}
	})
}

func TestColumnSelection(t *testing.T) {
	ref := adapter.TableRef{Schema: "public", Name: "orders"}
	m := New()

	if _, ok := m.ColumnsFor(ref); ok {
		t.Error("unrestricted table should report no column restriction")
	}
	if !m.IncludesColumn(ref, "anything") {
		t.Error("unrestricted table includes every column")
	}

	m.SetColumns(ref, []string{"id", "total"})

	cols, ok := m.ColumnsFor(ref)
	if !ok || len(cols) != 2 {
		t.Fatalf("ColumnsFor = %v, %t", cols, ok)
	}
	if !m.IncludesColumn(ref, "TOTAL") {
		t.Error("column lookup should ignore case")
	}
	if m.IncludesColumn(ref, "secret") {
		t.Error("unselected column should be excluded")
	}
}

func TestRenames(t *testing.T) {
	ref := adapter.TableRef{Schema: "public", Name: "orders"}
	m := New()

	if m.HasRenames() {
		t.Error("fresh selection has no renames")
	}

	m.AddRename(ref, "amt", "amount")

	if !m.HasRenames() {
		t.Error("HasRenames should see the pending rename")
	}
	pairs := m.RenamesFor(ref)
	if pairs["amt"] != "amount" {
		t.Errorf("renames = %v", pairs)
	}
	tables := m.RenameTables()
	if len(tables) != 1 || !tables[0].Equal(ref) {
		t.Errorf("rename tables = %v", tables)
	}
}

func TestFromConfig(t *testing.T) {
	mc := &config.MigrationConfig{
		Tables:  []string{"public.orders", "customers"},
		Columns: map[string][]string{"public.orders": {"id", "total"}},
		Renames: map[string]map[string]string{
			"public.orders": {"amt": "amount"},
		},
	}

	m := FromConfig(mc)

	if len(m.Tables()) != 2 {
		t.Fatalf("tables = %v", m.Tables())
	}
	// Bare names parse with an empty schema for the adapter to default.
	if m.Tables()[1].Schema != "" || m.Tables()[1].Name != "customers" {
		t.Errorf("bare table ref = %+v", m.Tables()[1])
	}

	orders := adapter.TableRef{Schema: "public", Name: "orders"}
	if cols, ok := m.ColumnsFor(orders); !ok || len(cols) != 2 {
		t.Errorf("column restriction not carried over: %v, %t", cols, ok)
	}
	if m.RenamesFor(orders)["amt"] != "amount" {
		t.Errorf("rename not carried over: %v", m.RenamesFor(orders))
	}
}

func TestContainsFold(t *testing.T) {
	list := []string{"Id", "Name"}
	if !ContainsFold(list, "id") || !ContainsFold(list, "NAME") {
		t.Error("lookup should ignore case")
	}
	if ContainsFold(list, "total") {
		t.Error("absent entry reported present")
	}
}
