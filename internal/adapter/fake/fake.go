// Package fake provides an in-memory adapter for tests. It implements the
// full contract over map-backed tables and exposes error-injection hooks so
// engine tests can exercise partial-failure paths without a database.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v6"

	"dbferry/internal/adapter"
)

type table struct {
	schema adapter.TableSchema
	rows   [][]any
}

// Adapter is an in-memory implementation of adapter.Adapter.
type Adapter struct {
	mu     sync.Mutex
	name   string
	order  []string
	tables map[string]*table
	ddl    []adapter.DDLObject

	// CreateSchemas supplies the structure CreateObject installs, keyed by
	// lowercase object name. Without an entry the table is created with no
	// columns.
	CreateSchemas map[string]adapter.TableSchema

	// Error injection, keyed by lowercase object name or table key.
	ConnErr      error
	FailCreate   map[string]error
	FailTruncate map[string]error
	FailOpen     map[string]error
	FailInsert   map[string]error

	// GhostCreate makes CreateObject report success without installing the
	// table, to exercise post-creation verification.
	GhostCreate map[string]bool

	// RenameLeavesOld simulates a rename that adds the new column but keeps
	// the old one visible.
	RenameLeavesOld bool

	closed bool
}

// New creates an empty fake adapter with the given driver name.
func New(name string) *Adapter {
	return &Adapter{
		name:          name,
		tables:        make(map[string]*table),
		CreateSchemas: make(map[string]adapter.TableSchema),
		FailCreate:    make(map[string]error),
		FailTruncate:  make(map[string]error),
		FailOpen:      make(map[string]error),
		FailInsert:    make(map[string]error),
		GhostCreate:   make(map[string]bool),
	}
}

// AddTable installs a table with its rows. Rows are stored as given, in
// schema column order.
func (a *Adapter) AddTable(ts adapter.TableSchema, rows [][]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := ts.Ref.Key()
	if _, ok := a.tables[key]; !ok {
		a.order = append(a.order, key)
	}
	cp := make([][]any, len(rows))
	for i, r := range rows {
		cp[i] = append([]any(nil), r...)
	}
	a.tables[key] = &table{schema: ts, rows: cp}
}

// SetDDL fixes the objects ExtractDDL returns.
func (a *Adapter) SetDDL(objects []adapter.DDLObject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ddl = objects
}

// Rows returns a copy of a table's rows, for assertions.
func (a *Adapter) Rows(ref adapter.TableRef) [][]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[ref.Key()]
	if !ok {
		return nil
	}
	cp := make([][]any, len(t.rows))
	for i, r := range t.rows {
		cp[i] = append([]any(nil), r...)
	}
	return cp
}

// HasTable reports whether a table exists.
func (a *Adapter) HasTable(ref adapter.TableRef) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tables[ref.Key()]
	return ok
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) TestConnection(ctx context.Context) error {
	if a.ConnErr != nil {
		return &adapter.ConnectionError{Driver: a.name, Err: a.ConnErr}
	}
	return nil
}

func (a *Adapter) IntrospectSchema(ctx context.Context) (*adapter.Schema, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	schema := &adapter.Schema{}
	for _, key := range a.order {
		schema.Tables = append(schema.Tables, a.tables[key].schema)
	}
	return schema, nil
}

func (a *Adapter) ExtractDDL(ctx context.Context, tables []adapter.TableRef) ([]adapter.DDLObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	objects := a.ddl
	if objects == nil {
		// Synthesize one table object per installed table.
		for _, key := range a.order {
			ts := a.tables[key].schema
			objects = append(objects, adapter.DDLObject{
				Name:      ts.Ref.Name,
				Schema:    ts.Ref.Schema,
				Kind:      adapter.KindTable,
				SourceDDL: syntheticCreate(ts),
				TargetDDL: syntheticCreate(ts),
			})
		}
	}
	if len(tables) == 0 {
		return objects, nil
	}

	var out []adapter.DDLObject
	for _, obj := range objects {
		if obj.Kind != adapter.KindTable {
			out = append(out, obj)
			continue
		}
		for _, t := range tables {
			if obj.Ref().Equal(t) {
				out = append(out, obj)
				break
			}
		}
	}
	return out, nil
}

func syntheticCreate(ts adapter.TableSchema) string {
	cols := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		cols[i] = fmt.Sprintf("%s %s", c.Name, c.DataType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ts.Ref, strings.Join(cols, ", "))
}

func (a *Adapter) CreateObject(ctx context.Context, obj adapter.DDLObject) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := strings.ToLower(obj.Name)
	if err, ok := a.FailCreate[name]; ok {
		return err
	}
	if obj.Kind != adapter.KindTable || a.GhostCreate[name] {
		return nil
	}

	ts, ok := a.CreateSchemas[name]
	if !ok {
		ts = adapter.TableSchema{Ref: obj.Ref()}
	}
	key := ts.Ref.Key()
	if _, exists := a.tables[key]; !exists {
		a.order = append(a.order, key)
	}
	a.tables[key] = &table{schema: ts}
	return nil
}

func (a *Adapter) DescribeTable(ctx context.Context, ref adapter.TableRef) (*adapter.TableSchema, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("table %s not found", ref)
	}
	ts := t.schema
	return &ts, nil
}

func (a *Adapter) TableColumns(ctx context.Context, ref adapter.TableRef) ([]adapter.Column, error) {
	ts, err := a.DescribeTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ts.Columns, nil
}

func (a *Adapter) RowCount(ctx context.Context, ref adapter.TableRef) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[ref.Key()]
	if !ok {
		return 0, fmt.Errorf("table %s not found", ref)
	}
	return int64(len(t.rows)), nil
}

func (a *Adapter) TruncateTable(ctx context.Context, ref adapter.TableRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.FailTruncate[ref.Key()]; ok {
		return err
	}
	t, ok := a.tables[ref.Key()]
	if !ok {
		return fmt.Errorf("table %s not found", ref)
	}
	t.rows = nil
	return nil
}

type stream struct {
	rows [][]any
	pos  int
}

func (s *stream) Next(limit int) ([][]any, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	end := s.pos + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	out := s.rows[s.pos:end]
	s.pos = end
	return out, nil
}

func (s *stream) Close() error { return nil }

func (a *Adapter) OpenRows(ctx context.Context, ref adapter.TableRef, columns []string, orderBy string) (adapter.RowStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err, ok := a.FailOpen[ref.Key()]; ok {
		return nil, err
	}
	t, ok := a.tables[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("table %s not found", ref)
	}

	idx := make([]int, len(columns))
	for i, col := range columns {
		pos := columnIndex(t.schema.Columns, col)
		if pos < 0 {
			return nil, fmt.Errorf("column %s not found in %s", col, ref)
		}
		idx[i] = pos
	}

	src := make([][]any, len(t.rows))
	copy(src, t.rows)
	if orderBy != "" {
		pos := columnIndex(t.schema.Columns, orderBy)
		if pos < 0 {
			return nil, fmt.Errorf("order column %s not found in %s", orderBy, ref)
		}
		sort.SliceStable(src, func(i, j int) bool {
			return fmt.Sprint(src[i][pos]) < fmt.Sprint(src[j][pos])
		})
	}

	projected := make([][]any, len(src))
	for i, row := range src {
		out := make([]any, len(idx))
		for j, p := range idx {
			out[j] = row[p]
		}
		projected[i] = out
	}
	return &stream{rows: projected}, nil
}

func (a *Adapter) InsertChunk(ctx context.Context, ref adapter.TableRef, columns []string, rows [][]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err, ok := a.FailInsert[ref.Key()]; ok {
		return err
	}
	t, ok := a.tables[ref.Key()]
	if !ok {
		return fmt.Errorf("table %s not found", ref)
	}

	idx := make([]int, len(columns))
	for i, col := range columns {
		pos := columnIndex(t.schema.Columns, col)
		if pos < 0 {
			return fmt.Errorf("column %s not found in %s", col, ref)
		}
		idx[i] = pos
	}

	for _, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row has %d values for %d columns", len(row), len(columns))
		}
		full := make([]any, len(t.schema.Columns))
		for i, p := range idx {
			full[p] = row[i]
		}
		t.rows = append(t.rows, full)
	}
	return nil
}

func (a *Adapter) RenameColumn(ctx context.Context, ref adapter.TableRef, oldName, newName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tables[ref.Key()]
	if !ok {
		return fmt.Errorf("table %s not found", ref)
	}
	pos := columnIndex(t.schema.Columns, oldName)
	if pos < 0 {
		return fmt.Errorf("column %s not found in %s", oldName, ref)
	}

	if a.RenameLeavesOld {
		added := t.schema.Columns[pos]
		added.Name = newName
		t.schema.Columns = append(t.schema.Columns, added)
		return nil
	}
	t.schema.Columns[pos].Name = newName
	return nil
}

func (a *Adapter) DropTable(ctx context.Context, ref adapter.TableRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := ref.Key()
	if _, ok := a.tables[key]; !ok {
		return nil
	}
	delete(a.tables, key)
	for i, k := range a.order {
		if k == key {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func columnIndex(cols []adapter.Column, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// SeedRows generates n rows of plausible values matching the column types,
// with a sequential integer in any column whose type family is integer.
func SeedRows(n int, cols []adapter.Column) [][]any {
	faker := gofakeit.New(42)
	rows := make([][]any, n)
	for i := range rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = seedValue(faker, c, i)
		}
		rows[i] = row
	}
	return rows
}

func seedValue(faker *gofakeit.Faker, c adapter.Column, i int) any {
	dt := strings.ToLower(c.DataType)
	switch {
	case strings.Contains(dt, "int"):
		return int64(i + 1)
	case strings.Contains(dt, "bool") || strings.Contains(dt, "bit"):
		return i%2 == 0
	case strings.Contains(dt, "float") || strings.Contains(dt, "double") ||
		strings.Contains(dt, "real") || strings.Contains(dt, "numeric") ||
		strings.Contains(dt, "decimal"):
		return faker.Float64Range(0, 10000)
	case strings.Contains(dt, "date") || strings.Contains(dt, "time"):
		return faker.Date().UTC()
	default:
		return faker.LetterN(12)
	}
}
