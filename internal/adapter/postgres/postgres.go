// Package postgres implements the adapter contract for PostgreSQL using a
// pgx connection pool. Chunk inserts go through the COPY protocol.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"dbferry/internal/adapter"
	"dbferry/internal/config"
	"dbferry/internal/dialect"
	"dbferry/internal/logging"
)

func init() {
	adapter.Register(&adapter.Factory{
		Name:    "postgres",
		Aliases: []string{"postgresql", "pg"},
		Open:    open,
	})
}

// Postgres is a PostgreSQL adapter backed by pgxpool.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

func open(cfg *config.Endpoint) (adapter.Adapter, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, &adapter.ConnectionError{Driver: "postgres", Err: err}
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, &adapter.ConnectionError{Driver: "postgres", Err: err}
	}

	logging.Info("Connected to PostgreSQL: %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return &Postgres{pool: pool, schema: cfg.Schema}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) TestConnection(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return &adapter.ConnectionError{Driver: "postgres", Err: err}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) qualify(ref adapter.TableRef) string {
	ref = p.defaulted(ref)
	return pq.QuoteIdentifier(ref.Schema) + "." + pq.QuoteIdentifier(ref.Name)
}

func (p *Postgres) defaulted(ref adapter.TableRef) adapter.TableRef {
	if ref.Schema == "" {
		ref.Schema = p.schema
	}
	return ref
}

func (p *Postgres) IntrospectSchema(ctx context.Context) (*adapter.Schema, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema = $1
		ORDER BY table_name
	`, p.schema)
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
		ts, err := p.DescribeTable(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("describing %s: %w", ref, err)
		}
		schema.Tables = append(schema.Tables, *ts)
	}

	if schema.Views, err = p.listNames(ctx, `
		SELECT table_name FROM information_schema.views
		WHERE table_schema = $1 ORDER BY table_name
	`); err != nil {
		return nil, fmt.Errorf("querying views: %w", err)
	}
	if schema.Sequences, err = p.listNames(ctx, `
		SELECT sequence_name FROM information_schema.sequences
		WHERE sequence_schema = $1 ORDER BY sequence_name
	`); err != nil {
		return nil, fmt.Errorf("querying sequences: %w", err)
	}
	return schema, nil
}

func (p *Postgres) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, p.schema)
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

// ExtractDDL emits sequences first, then tables, then views, so creation on
// the target can run in dependency order.
func (p *Postgres) ExtractDDL(ctx context.Context, tables []adapter.TableRef) ([]adapter.DDLObject, error) {
	schema, err := p.IntrospectSchema(ctx)
	if err != nil {
		return nil, err
	}

	var objects []adapter.DDLObject
	for _, seq := range schema.Sequences {
		stmt := fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s.%s",
			pq.QuoteIdentifier(p.schema), pq.QuoteIdentifier(seq))
		objects = append(objects, adapter.DDLObject{
			Name: seq, Schema: p.schema, Kind: adapter.KindSequence,
			SourceDDL: stmt, TargetDDL: stmt,
		})
	}

	for _, ts := range schema.Tables {
		if !selected(ts.Ref, tables) {
			continue
		}
		ts := ts
		objects = append(objects, adapter.DDLObject{
			Name: ts.Ref.Name, Schema: ts.Ref.Schema, Kind: adapter.KindTable,
			SourceDDL: dialect.RenderSourceCreate("postgres", &ts),
			TargetDDL: dialect.RenderCreateTable("postgres", &ts),
		})
	}

	for _, view := range schema.Views {
		var def string
		err := p.pool.QueryRow(ctx,
			`SELECT pg_get_viewdef(($1 || '.' || quote_ident($2))::regclass, true)`,
			p.schema, view).Scan(&def)
		if err != nil {
			return nil, fmt.Errorf("reading view %s: %w", view, err)
		}
		stmt := fmt.Sprintf("CREATE VIEW %s.%s AS %s",
			pq.QuoteIdentifier(p.schema), pq.QuoteIdentifier(view), strings.TrimSuffix(strings.TrimSpace(def), ";"))
		objects = append(objects, adapter.DDLObject{
			Name: view, Schema: p.schema, Kind: adapter.KindView,
			SourceDDL: stmt, TargetDDL: stmt,
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

func (p *Postgres) CreateObject(ctx context.Context, obj adapter.DDLObject) error {
	_, err := p.pool.Exec(ctx, obj.TargetDDL)
	return err
}

func (p *Postgres) DescribeTable(ctx context.Context, ref adapter.TableRef) (*adapter.TableSchema, error) {
	ref = p.defaulted(ref)
	ts := &adapter.TableSchema{Ref: ref}

	rows, err := p.pool.Query(ctx, `
		SELECT
			column_name,
			udt_name,
			COALESCE(character_maximum_length, 0),
			COALESCE(numeric_precision, 0),
			COALESCE(numeric_scale, 0),
			CASE WHEN is_nullable = 'YES' THEN true ELSE false END,
			COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
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

	pkRows, err := p.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE i.indisprimary
		  AND n.nspname = $1
		  AND c.relname = $2
		ORDER BY array_position(i.indkey, a.attnum)
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

	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE c.contype = 'f' AND n.nspname = $1 AND t.relname = $2
	`, ref.Schema, ref.Name).Scan(&ts.ForeignKeyCount)
	if err != nil {
		return nil, fmt.Errorf("counting foreign keys: %w", err)
	}

	idxRows, err := p.pool.Query(ctx, `
		SELECT
			i.relname,
			ix.indisunique,
			array_to_string(array_agg(a.attname ORDER BY k.ordinality), ',')
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ordinality)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1
		  AND t.relname = $2
		  AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname
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

func (p *Postgres) TableColumns(ctx context.Context, ref adapter.TableRef) ([]adapter.Column, error) {
	ts, err := p.DescribeTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ts.Columns, nil
}

func (p *Postgres) RowCount(ctx context.Context, ref adapter.TableRef) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.qualify(ref))).Scan(&count)
	return count, err
}

func (p *Postgres) TruncateTable(ctx context.Context, ref adapter.TableRef) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", p.qualify(ref)))
	return err
}

type pgxStream struct {
	rows pgx.Rows
	done bool
}

func (s *pgxStream) Next(limit int) ([][]any, error) {
	if s.done {
		return nil, nil
	}
	var out [][]any
	for len(out) < limit {
		if !s.rows.Next() {
			s.done = true
			if err := s.rows.Err(); err != nil {
				return nil, err
			}
			break
		}
		values, err := s.rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, nil
}

func (s *pgxStream) Close() error {
	s.rows.Close()
	return nil
}

func (p *Postgres) OpenRows(ctx context.Context, ref adapter.TableRef, columns []string, orderBy string) (adapter.RowStream, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), p.qualify(ref))
	if orderBy != "" {
		query += " ORDER BY " + pq.QuoteIdentifier(orderBy)
	}

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return &pgxStream{rows: rows}, nil
}

func (p *Postgres) InsertChunk(ctx context.Context, ref adapter.TableRef, columns []string, rows [][]any) error {
	ref = p.defaulted(ref)
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{ref.Schema, ref.Name},
		columns,
		pgx.CopyFromRows(rows),
	)
	return err
}

func (p *Postgres) RenameColumn(ctx context.Context, ref adapter.TableRef, oldName, newName string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		p.qualify(ref), pq.QuoteIdentifier(oldName), pq.QuoteIdentifier(newName))
	_, err := p.pool.Exec(ctx, stmt)
	return err
}

func (p *Postgres) DropTable(ctx context.Context, ref adapter.TableRef) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", p.qualify(ref)))
	return err
}
