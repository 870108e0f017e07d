// Package progress holds per-table copy progress for status polling and
// drives the CLI progress bar. The map is written by the copy loop and read
// by pollers, so every access goes through the mutex.
package progress

import (
	"math"
	"sync"
)

// TableProgress is the polling payload for one in-flight table copy.
type TableProgress struct {
	Percent    int    `json:"percent"`
	RowsCopied int64  `json:"rows_copied"`
	TotalRows  *int64 `json:"total_rows"`
}

// Map tracks TableProgress per display name while a copy phase is in
// flight. It is cleared when the phase completes.
type Map struct {
	mu     sync.RWMutex
	tables map[string]TableProgress
}

// NewMap creates an empty progress map.
func NewMap() *Map {
	return &Map{tables: make(map[string]TableProgress)}
}

// Update records a table's cumulative progress. A negative total means the
// row count is unknown; percent then stays at zero until Complete.
func (m *Map) Update(name string, copied, total int64) {
	p := TableProgress{RowsCopied: copied}
	if total >= 0 {
		t := total
		p.TotalRows = &t
		if total > 0 {
			pct := int(math.Round(float64(copied) / float64(total) * 100))
			if pct > 100 {
				pct = 100
			}
			p.Percent = pct
		}
	}

	m.mu.Lock()
	m.tables[name] = p
	m.mu.Unlock()
}

// Complete pins a table at 100 percent.
func (m *Map) Complete(name string) {
	m.mu.Lock()
	p := m.tables[name]
	p.Percent = 100
	m.tables[name] = p
	m.mu.Unlock()
}

// Get returns one table's progress.
func (m *Map) Get(name string) (TableProgress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.tables[name]
	return p, ok
}

// Snapshot copies the whole map for a polling response.
func (m *Map) Snapshot() map[string]TableProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]TableProgress, len(m.tables))
	for k, v := range m.tables {
		out[k] = v
	}
	return out
}

// Clear empties the map at phase completion.
func (m *Map) Clear() {
	m.mu.Lock()
	m.tables = make(map[string]TableProgress)
	m.mu.Unlock()
}
