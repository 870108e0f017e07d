package progress

import "testing"

func TestUpdate(t *testing.T) {
	m := NewMap()

	m.Update("public.orders", 50, 200)
	p, ok := m.Get("public.orders")
	if !ok {
		t.Fatal("table missing after update")
	}
	if p.Percent != 25 || p.RowsCopied != 50 {
		t.Errorf("progress = %+v, want 25%% of 50 rows", p)
	}
	if p.TotalRows == nil || *p.TotalRows != 200 {
		t.Errorf("total = %v, want 200", p.TotalRows)
	}
}

func TestUpdateUnknownTotal(t *testing.T) {
	m := NewMap()

	m.Update("t", 500, -1)
	p, _ := m.Get("t")
	if p.TotalRows != nil {
		t.Errorf("unknown total should stay nil, got %v", p.TotalRows)
	}
	if p.Percent != 0 {
		t.Errorf("percent with unknown total = %d, want 0", p.Percent)
	}
}

func TestUpdateClampsOverflow(t *testing.T) {
	m := NewMap()

	m.Update("t", 250, 200)
	if p, _ := m.Get("t"); p.Percent != 100 {
		t.Errorf("percent = %d, want clamp to 100", p.Percent)
	}
}

func TestComplete(t *testing.T) {
	m := NewMap()

	m.Update("t", 10, -1)
	m.Complete("t")
	if p, _ := m.Get("t"); p.Percent != 100 {
		t.Errorf("percent after Complete = %d, want 100", p.Percent)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := NewMap()
	m.Update("t", 1, 10)

	snap := m.Snapshot()
	snap["t"] = TableProgress{Percent: 99}

	if p, _ := m.Get("t"); p.Percent == 99 {
		t.Error("mutating the snapshot must not affect the map")
	}
}

func TestClear(t *testing.T) {
	m := NewMap()
	m.Update("a", 1, 10)
	m.Update("b", 2, 10)

	m.Clear()
	if len(m.Snapshot()) != 0 {
		t.Error("map should be empty after Clear")
	}
}
