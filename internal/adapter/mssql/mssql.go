// Package mssql implements the adapter contract for Microsoft SQL Server
// over database/sql. Chunk inserts use the driver's bulk copy support.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"dbferry/internal/adapter"
	"dbferry/internal/adapter/sqlrows"
	"dbferry/internal/config"
	"dbferry/internal/dialect"
	"dbferry/internal/logging"
)

func init() {
	adapter.Register(&adapter.Factory{
		Name:    "mssql",
		Aliases: []string{"sqlserver"},
		Open:    open,
	})
}

// MSSQL is a SQL Server adapter.
type MSSQL struct {
	db     *sql.DB
	schema string
}

func open(cfg *config.Endpoint) (adapter.Adapter, error) {
	query := url.Values{}
	query.Set("database", cfg.Database)
	query.Set("encrypt", cfg.Encrypt)

	dsn := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}

	db, err := sql.Open("sqlserver", dsn.String())
	if err != nil {
		return nil, &adapter.ConnectionError{Driver: "mssql", Err: err}
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &adapter.ConnectionError{Driver: "mssql", Err: err}
	}

	logging.Info("Connected to SQL Server: %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return &MSSQL{db: db, schema: cfg.Schema}, nil
}

func (m *MSSQL) Name() string { return "mssql" }

func (m *MSSQL) TestConnection(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return &adapter.ConnectionError{Driver: "mssql", Err: err}
	}
	return nil
}

func (m *MSSQL) Close() error {
	return m.db.Close()
}

func (m *MSSQL) defaulted(ref adapter.TableRef) adapter.TableRef {
	if ref.Schema == "" {
		ref.Schema = m.schema
	}
	return ref
}

func (m *MSSQL) qualify(ref adapter.TableRef) string {
	return dialect.Qualify("mssql", m.defaulted(ref))
}

func (m *MSSQL) IntrospectSchema(ctx context.Context) (*adapter.Schema, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT t.TABLE_SCHEMA, t.TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES t
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		  AND t.TABLE_SCHEMA = @schema
		ORDER BY t.TABLE_NAME
	`, sql.Named("schema", m.schema))
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}

	var refs []adapter.TableRef
	for rows.Next() {
		var ref adapter.TableRef
		if err := rows.Scan(&ref.Schema, &ref.Name); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	schema := &adapter.Schema{}
	for _, ref := range refs {
		ts, err := m.DescribeTable(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("describing %s: %w", ref, err)
		}
		schema.Tables = append(schema.Tables, *ts)
	}

	if schema.Views, err = m.listNames(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = @schema ORDER BY TABLE_NAME
	`); err != nil {
		return nil, fmt.Errorf("querying views: %w", err)
	}
	if schema.Sequences, err = m.listNames(ctx, `
		SELECT seq.name
		FROM sys.sequences seq
		JOIN sys.schemas s ON seq.schema_id = s.schema_id
		WHERE s.name = @schema ORDER BY seq.name
	`); err != nil {
		return nil, fmt.Errorf("querying sequences: %w", err)
	}
	return schema, nil
}

func (m *MSSQL) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query, sql.Named("schema", m.schema))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ExtractDDL emits sequences first, then tables, then views. Table DDL is
// translated to the portable form the target executes.
func (m *MSSQL) ExtractDDL(ctx context.Context, tables []adapter.TableRef) ([]adapter.DDLObject, error) {
	schema, err := m.IntrospectSchema(ctx)
	if err != nil {
		return nil, err
	}

	var objects []adapter.DDLObject
	for _, seq := range schema.Sequences {
		objects = append(objects, adapter.DDLObject{
			Name: seq, Schema: m.schema, Kind: adapter.KindSequence,
			SourceDDL: fmt.Sprintf("CREATE SEQUENCE %s.%s",
				dialect.Quote("mssql", m.schema), dialect.Quote("mssql", seq)),
			TargetDDL: fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s.%s",
				dialect.Quote("postgres", m.schema), dialect.Quote("postgres", seq)),
		})
	}

	for _, ts := range schema.Tables {
		if !selected(ts.Ref, tables) {
			continue
		}
		ts := ts
		objects = append(objects, adapter.DDLObject{
			Name: ts.Ref.Name, Schema: ts.Ref.Schema, Kind: adapter.KindTable,
			SourceDDL: dialect.RenderSourceCreate("mssql", &ts),
			TargetDDL: dialect.RenderCreateTable("mssql", &ts),
		})
	}

	for _, view := range schema.Views {
		var def string
		err := m.db.QueryRowContext(ctx, `
			SELECT sm.definition
			FROM sys.sql_modules sm
			JOIN sys.views v ON v.object_id = sm.object_id
			JOIN sys.schemas s ON v.schema_id = s.schema_id
			WHERE s.name = @schema AND v.name = @view
		`, sql.Named("schema", m.schema), sql.Named("view", view)).Scan(&def)
		if err != nil {
			return nil, fmt.Errorf("reading view %s: %w", view, err)
		}
		objects = append(objects, adapter.DDLObject{
			Name: view, Schema: m.schema, Kind: adapter.KindView,
			SourceDDL: def,
			TargetDDL: def,
		})
	}
	return objects, nil
}

func selected(ref adapter.TableRef, tables []adapter.TableRef) bool {
	if len(tables) == 0 {
		return true
	}
	for _, t := range tables {
		if ref.Equal(t) {
			return true
		}
	}
	return false
}

func (m *MSSQL) CreateObject(ctx context.Context, obj adapter.DDLObject) error {
	_, err := m.db.ExecContext(ctx, obj.TargetDDL)
	return err
}

func (m *MSSQL) DescribeTable(ctx context.Context, ref adapter.TableRef) (*adapter.TableSchema, error) {
	ref = m.defaulted(ref)
	ts := &adapter.TableSchema{Ref: ref}

	rows, err := m.db.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(NUMERIC_PRECISION, 0),
			ISNULL(NUMERIC_SCALE, 0),
			CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			ISNULL(COLUMN_DEFAULT, '')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`, sql.Named("schema", ref.Schema), sql.Named("table", ref.Name))
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	for rows.Next() {
		var c adapter.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Length, &c.Precision,
			&c.Scale, &c.Nullable, &c.Default); err != nil {
			rows.Close()
			return nil, err
		}
		ts.Columns = append(ts.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ts.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found", ref)
	}

	pkRows, err := m.db.QueryContext(ctx, `
		SELECT c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE c
			ON c.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			AND c.TABLE_SCHEMA = tc.TABLE_SCHEMA
			AND c.TABLE_NAME = tc.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		  AND tc.TABLE_SCHEMA = @schema
		  AND tc.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`, sql.Named("schema", ref.Schema), sql.Named("table", ref.Name))
	if err != nil {
		return nil, fmt.Errorf("querying primary key: %w", err)
	}
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			pkRows.Close()
			return nil, err
		}
		ts.PrimaryKey = append(ts.PrimaryKey, col)
	}
	pkRows.Close()
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	err = m.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sys.foreign_keys fk
		JOIN sys.tables t ON fk.parent_object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @schema AND t.name = @table
	`, sql.Named("schema", ref.Schema), sql.Named("table", ref.Name)).Scan(&ts.ForeignKeyCount)
	if err != nil {
		return nil, fmt.Errorf("counting foreign keys: %w", err)
	}

	idxRows, err := m.db.QueryContext(ctx, `
		SELECT
			i.name,
			i.is_unique,
			STRING_AGG(c.name, ',') WITHIN GROUP (ORDER BY ic.key_ordinal)
		FROM sys.indexes i
		JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
		JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		JOIN sys.tables tb ON i.object_id = tb.object_id
		JOIN sys.schemas s ON tb.schema_id = s.schema_id
		WHERE s.name = @schema
		  AND tb.name = @table
		  AND i.is_primary_key = 0
		  AND i.type > 0
		GROUP BY i.name, i.is_unique
		ORDER BY i.name
	`, sql.Named("schema", ref.Schema), sql.Named("table", ref.Name))
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	for idxRows.Next() {
		var idx adapter.Index
		var cols string
		if err := idxRows.Scan(&idx.Name, &idx.Unique, &cols); err != nil {
			idxRows.Close()
			return nil, err
		}
		idx.Columns = strings.Split(cols, ",")
		ts.Indexes = append(ts.Indexes, idx)
	}
	idxRows.Close()
	return ts, idxRows.Err()
}

func (m *MSSQL) TableColumns(ctx context.Context, ref adapter.TableRef) ([]adapter.Column, error) {
	ts, err := m.DescribeTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ts.Columns, nil
}

func (m *MSSQL) RowCount(ctx context.Context, ref adapter.TableRef) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", m.qualify(ref))).Scan(&count)
	return count, err
}

// TruncateTable falls back to DELETE when TRUNCATE is blocked by a foreign
// key reference.
func (m *MSSQL) TruncateTable(ctx context.Context, ref adapter.TableRef) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", m.qualify(ref)))
	if err != nil {
		_, err = m.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", m.qualify(ref)))
	}
	return err
}

func (m *MSSQL) OpenRows(ctx context.Context, ref adapter.TableRef, columns []string, orderBy string) (adapter.RowStream, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = dialect.Quote("mssql", c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), m.qualify(ref))
	if orderBy != "" {
		query += " ORDER BY " + dialect.Quote("mssql", orderBy)
	}

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlrows.New(rows, len(columns)), nil
}

func (m *MSSQL) InsertChunk(ctx context.Context, ref adapter.TableRef, columns []string, rows [][]any) error {
	ref = m.defaulted(ref)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, mssqldb.CopyIn(
		ref.Schema+"."+ref.Name, mssqldb.BulkOptions{}, columns...))
	if err != nil {
		tx.Rollback()
		return err
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		tx.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *MSSQL) RenameColumn(ctx context.Context, ref adapter.TableRef, oldName, newName string) error {
	ref = m.defaulted(ref)
	_, err := m.db.ExecContext(ctx, "EXEC sp_rename @objname, @newname, 'COLUMN'",
		sql.Named("objname", fmt.Sprintf("%s.%s.%s", ref.Schema, ref.Name, oldName)),
		sql.Named("newname", newName))
	return err
}

func (m *MSSQL) DropTable(ctx context.Context, ref adapter.TableRef) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", m.qualify(ref)))
	return err
}
