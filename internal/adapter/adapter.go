// Package adapter defines the contract every vendor connector must satisfy.
// The migration, copy, and validation engines are written entirely against
// this interface; connectors implement the primitives (count, describe,
// fetch-chunk, insert-chunk) and nothing else. Chunking, hashing, and
// progress logic live in the engines, not in the adapters.
package adapter

import (
	"context"
	"strings"
)

// TableRef identifies a schema-qualified table. Comparisons are
// case-insensitive everywhere because vendors fold identifier case
// differently.
type TableRef struct {
	Schema string
	Name   string
}

// String returns the schema-qualified name.
func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// Key returns a lowercase form suitable for map lookups.
func (r TableRef) Key() string {
	return strings.ToLower(r.String())
}

// Equal reports whether two refs name the same table, ignoring case.
func (r TableRef) Equal(o TableRef) bool {
	return strings.EqualFold(r.Schema, o.Schema) && strings.EqualFold(r.Name, o.Name)
}

// ParseTableRef splits "schema.table" into a TableRef. A bare name gets an
// empty schema; the adapter substitutes its default.
func ParseTableRef(s string) TableRef {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return TableRef{Schema: s[:i], Name: s[i+1:]}
	}
	return TableRef{Name: s}
}

// ObjectKind classifies a DDL object.
type ObjectKind string

const (
	KindSequence ObjectKind = "sequence"
	KindTable    ObjectKind = "table"
	KindView     ObjectKind = "view"
)

// DDLObject is one schema object carrying both the source definition and
// the translated target definition. Extraction and translation happen
// upstream; the structure orchestrator only consumes these.
type DDLObject struct {
	Name      string
	Schema    string
	Kind      ObjectKind
	SourceDDL string
	TargetDDL string
}

// Ref returns the object's table reference.
func (o DDLObject) Ref() TableRef {
	return TableRef{Schema: o.Schema, Name: o.Name}
}

// Column describes one column with the metadata the validation engine
// compares across stores. Length/Precision/Scale are zero when the vendor
// does not report them for the type.
type Column struct {
	Name      string
	DataType  string
	Length    int
	Precision int
	Scale     int
	Nullable  bool
	Default   string
}

// Index describes an index on a table.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// TableSchema is the full structural description of one table.
type TableSchema struct {
	Ref             TableRef
	Columns         []Column
	PrimaryKey      []string
	ForeignKeyCount int
	Indexes         []Index
}

// ColumnNames returns the ordered column names.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema is the result of introspecting a whole database.
type Schema struct {
	Tables    []TableSchema
	Views     []string
	Sequences []string
}

// RowStream is a forward-only cursor over table rows. Next returns up to
// limit rows; an empty result means the stream is exhausted.
type RowStream interface {
	Next(limit int) ([][]any, error)
	Close() error
}

// Adapter is the uniform capability surface each vendor connector exposes.
// All methods that touch the database take a context and block until done.
type Adapter interface {
	// Name returns the driver name (e.g. "postgres", "mssql", "mysql").
	Name() string

	// TestConnection verifies the store is reachable.
	TestConnection(ctx context.Context) error

	// IntrospectSchema lists tables, views, and sequences with structure.
	IntrospectSchema(ctx context.Context) (*Schema, error)

	// ExtractDDL produces DDL objects for the selected tables (nil = all),
	// ordered sequences before tables before views.
	ExtractDDL(ctx context.Context, tables []TableRef) ([]DDLObject, error)

	// CreateObject applies one translated DDL object to this store.
	CreateObject(ctx context.Context, obj DDLObject) error

	// DescribeTable returns full structural metadata for one table.
	DescribeTable(ctx context.Context, ref TableRef) (*TableSchema, error)

	// TableColumns returns the ordered columns of one table.
	TableColumns(ctx context.Context, ref TableRef) ([]Column, error)

	// RowCount returns the exact row count of a table.
	RowCount(ctx context.Context, ref TableRef) (int64, error)

	// TruncateTable removes all rows but keeps the table.
	TruncateTable(ctx context.Context, ref TableRef) error

	// OpenRows opens a streaming cursor over the given columns. When
	// orderBy is non-empty rows come back ordered by that column; the
	// ordering must be deterministic for equal fetches on both stores.
	OpenRows(ctx context.Context, ref TableRef, columns []string, orderBy string) (RowStream, error)

	// InsertChunk batch-inserts rows into the given columns and commits.
	InsertChunk(ctx context.Context, ref TableRef, columns []string, rows [][]any) error

	// RenameColumn renames one column on a table.
	RenameColumn(ctx context.Context, ref TableRef, oldName, newName string) error

	// DropTable drops a table if it exists.
	DropTable(ctx context.Context, ref TableRef) error

	// Close releases all connections.
	Close() error
}
