// Package mysql implements the adapter contract for MySQL over
// database/sql. MySQL has no schemas separate from databases, so the
// endpoint's database doubles as the schema; sequence listing is empty.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"dbferry/internal/adapter"
	"dbferry/internal/adapter/sqlrows"
	"dbferry/internal/config"
	"dbferry/internal/dialect"
	"dbferry/internal/logging"
)

func init() {
	adapter.Register(&adapter.Factory{
		Name:    "mysql",
		Aliases: []string{"mariadb"},
		Open:    open,
	})
}

// MySQL is a MySQL adapter.
type MySQL struct {
	db     *sql.DB
	schema string
}

func open(cfg *config.Endpoint) (adapter.Adapter, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, &adapter.ConnectionError{Driver: "mysql", Err: err}
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &adapter.ConnectionError{Driver: "mysql", Err: err}
	}

	logging.Info("Connected to MySQL: %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return &MySQL{db: db, schema: cfg.Database}, nil
}

func (m *MySQL) Name() string { return "mysql" }

func (m *MySQL) TestConnection(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return &adapter.ConnectionError{Driver: "mysql", Err: err}
	}
	return nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

func (m *MySQL) defaulted(ref adapter.TableRef) adapter.TableRef {
	if ref.Schema == "" {
		ref.Schema = m.schema
	}
	return ref
}

func (m *MySQL) qualify(ref adapter.TableRef) string {
	return dialect.Qualify("mysql", m.defaulted(ref))
}

func (m *MySQL) IntrospectSchema(ctx context.Context) (*adapter.Schema, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		  AND TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, m.schema)
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

	vrows, err := m.db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.VIEWS
		WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME
	`, m.schema)
	if err != nil {
		return nil, fmt.Errorf("querying views: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var name string
		if err := vrows.Scan(&name); err != nil {
			return nil, err
		}
		schema.Views = append(schema.Views, name)
	}
	return schema, vrows.Err()
}

// ExtractDDL emits tables then views. Table DDL is translated to the
// portable form the target executes.
func (m *MySQL) ExtractDDL(ctx context.Context, tables []adapter.TableRef) ([]adapter.DDLObject, error) {
	schema, err := m.IntrospectSchema(ctx)
	if err != nil {
		return nil, err
	}

	var objects []adapter.DDLObject
	for _, ts := range schema.Tables {
		if !selected(ts.Ref, tables) {
			continue
		}
		ts := ts
		objects = append(objects, adapter.DDLObject{
			Name: ts.Ref.Name, Schema: ts.Ref.Schema, Kind: adapter.KindTable,
			SourceDDL: dialect.RenderSourceCreate("mysql", &ts),
			TargetDDL: dialect.RenderCreateTable("mysql", &ts),
		})
	}

	for _, view := range schema.Views {
		var def string
		err := m.db.QueryRowContext(ctx, `
			SELECT VIEW_DEFINITION FROM information_schema.VIEWS
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		`, m.schema, view).Scan(&def)
		if err != nil {
			return nil, fmt.Errorf("reading view %s: %w", view, err)
		}
		stmt := fmt.Sprintf("CREATE VIEW %s.%s AS %s",
			dialect.Quote("postgres", m.schema), dialect.Quote("postgres", view), def)
		objects = append(objects, adapter.DDLObject{
			Name: view, Schema: m.schema, Kind: adapter.KindView,
			SourceDDL: def, TargetDDL: stmt,
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

// CreateObject executes portable DDL. ANSI_QUOTES is enabled on the
// connection so double-quoted identifiers parse.
func (m *MySQL) CreateObject(ctx context.Context, obj adapter.DDLObject) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx,
		"SET SESSION sql_mode = CONCAT(@@sql_mode, ',ANSI_QUOTES')"); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, obj.TargetDDL)
	return err
}

func (m *MySQL) DescribeTable(ctx context.Context, ref adapter.TableRef) (*adapter.TableSchema, error) {
	ref = m.defaulted(ref)
	ts := &adapter.TableSchema{Ref: ref}

	rows, err := m.db.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IFNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			IFNULL(NUMERIC_PRECISION, 0),
			IFNULL(NUMERIC_SCALE, 0),
			CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			IFNULL(COLUMN_DEFAULT, '')
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, ref.Schema, ref.Name)
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
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`, ref.Schema, ref.Name)
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
		FROM information_schema.TABLE_CONSTRAINTS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_TYPE = 'FOREIGN KEY'
	`, ref.Schema, ref.Name).Scan(&ts.ForeignKeyCount)
	if err != nil {
		return nil, fmt.Errorf("counting foreign keys: %w", err)
	}

	idxRows, err := m.db.QueryContext(ctx, `
		SELECT
			INDEX_NAME,
			MAX(NON_UNIQUE) = 0,
			GROUP_CONCAT(COLUMN_NAME ORDER BY SEQ_IN_INDEX)
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME <> 'PRIMARY'
		GROUP BY INDEX_NAME
		ORDER BY INDEX_NAME
	`, ref.Schema, ref.Name)
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

func (m *MySQL) TableColumns(ctx context.Context, ref adapter.TableRef) ([]adapter.Column, error) {
	ts, err := m.DescribeTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ts.Columns, nil
}

func (m *MySQL) RowCount(ctx context.Context, ref adapter.TableRef) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", m.qualify(ref))).Scan(&count)
	return count, err
}

func (m *MySQL) TruncateTable(ctx context.Context, ref adapter.TableRef) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", m.qualify(ref)))
	return err
}

func (m *MySQL) OpenRows(ctx context.Context, ref adapter.TableRef, columns []string, orderBy string) (adapter.RowStream, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = dialect.Quote("mysql", c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), m.qualify(ref))
	if orderBy != "" {
		query += " ORDER BY " + dialect.Quote("mysql", orderBy)
	}

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlrows.New(rows, len(columns)), nil
}

func (m *MySQL) InsertChunk(ctx context.Context, ref adapter.TableRef, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = dialect.Quote("mysql", c)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		placeholders[i] = placeholder
		args = append(args, row...)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		m.qualify(ref), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *MySQL) RenameColumn(ctx context.Context, ref adapter.TableRef, oldName, newName string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		m.qualify(ref), dialect.Quote("mysql", oldName), dialect.Quote("mysql", newName))
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

func (m *MySQL) DropTable(ctx context.Context, ref adapter.TableRef) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.qualify(ref)))
	return err
}
