package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
source:
  type: mssql
  host: sqlserver.example.com
  database: sales
  user: reader
  password: secret
target:
  type: postgres
  host: pg.example.com
  database: sales
  user: writer
  password: secret
migration:
  chunk_size: 5000
  tables:
    - dbo.orders
    - dbo.customers
  columns:
    dbo.orders: [id, total]
  renames:
    dbo.orders:
      amt: amount
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source.Type != "mssql" || cfg.Source.Port != 1433 || cfg.Source.Schema != "dbo" {
		t.Errorf("mssql defaults: %+v", cfg.Source)
	}
	if cfg.Target.Port != 5432 || cfg.Target.Schema != "public" {
		t.Errorf("postgres defaults: %+v", cfg.Target)
	}
	if cfg.Source.ID != "sqlserver.example.com/sales" {
		t.Errorf("endpoint ID default = %q", cfg.Source.ID)
	}

	if cfg.Migration.ChunkSize != 5000 {
		t.Errorf("chunk size = %d, want explicit 5000", cfg.Migration.ChunkSize)
	}
	if cfg.Migration.SampleLimit != 100 {
		t.Errorf("sample limit default = %d, want 100", cfg.Migration.SampleLimit)
	}
	if cfg.Migration.DataDir != "./data" {
		t.Errorf("data dir default = %q", cfg.Migration.DataDir)
	}

	if len(cfg.Migration.Tables) != 2 {
		t.Errorf("tables = %v", cfg.Migration.Tables)
	}
	if cols := cfg.Migration.Columns["dbo.orders"]; len(cols) != 2 {
		t.Errorf("columns = %v", cols)
	}
	if cfg.Migration.Renames["dbo.orders"]["amt"] != "amount" {
		t.Errorf("renames = %v", cfg.Migration.Renames)
	}
}

func TestLoadDefaultsByType(t *testing.T) {
	path := writeConfig(t, `
source:
  type: mysql
  host: db.example.com
  database: shop
target:
  host: pg.example.com
  database: shop
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Port != 3306 {
		t.Errorf("mysql port default = %d, want 3306", cfg.Source.Port)
	}
	// MySQL has no schema concept separate from the database.
	if cfg.Source.Schema != "shop" {
		t.Errorf("mysql schema default = %q, want database name", cfg.Source.Schema)
	}
	if cfg.Target.Type != "postgres" {
		t.Errorf("type default = %q, want postgres", cfg.Target.Type)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"missing host",
			"source:\n  database: x\ntarget:\n  host: h\n  database: x\n",
			"host is required",
		},
		{
			"missing database",
			"source:\n  host: h\ntarget:\n  host: h\n  database: x\n",
			"database is required",
		},
		{
			"bad type",
			"source:\n  type: oracle\n  host: h\n  database: x\ntarget:\n  host: h\n  database: x\n",
			"unsupported database type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestExpandTilde(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandTilde("~/data"); got != filepath.Join(home, "data") {
		t.Errorf("expandTilde(~/data) = %q", got)
	}
	if got := expandTilde("./data"); got != "./data" {
		t.Errorf("plain path should pass through, got %q", got)
	}
}
