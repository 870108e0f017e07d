package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the migration tool.
type Config struct {
	Source    Endpoint        `yaml:"source"`
	Target    Endpoint        `yaml:"target"`
	Migration MigrationConfig `yaml:"migration"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// Endpoint holds connection settings for one database.
type Endpoint struct {
	// ID identifies this connection in run records. Defaults to host/database.
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // "postgres", "mssql", or "mysql"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"ssl_mode"` // PostgreSQL: disable, require, verify-ca, verify-full
	Encrypt  string `yaml:"encrypt"`  // MSSQL: disable, false, true
}

// MigrationConfig holds migration behavior settings.
type MigrationConfig struct {
	ChunkSize   int    `yaml:"chunk_size"`   // Upper bound on rows per chunk (default 10000)
	SampleLimit int    `yaml:"sample_limit"` // Rows compared per table during validation (default 100)
	DataDir     string `yaml:"data_dir"`     // Where run state is kept (default ./data)

	// Tables lists schema-qualified tables to migrate. Empty means all.
	Tables []string `yaml:"tables"`

	// Columns restricts the migrated columns per table ("schema.table" key).
	// A table absent from the map migrates all columns.
	Columns map[string][]string `yaml:"columns"`

	// Renames maps old column names to new ones per table, applied after
	// data copy completes.
	Renames map[string]map[string]string `yaml:"renames"`
}

// NotifyConfig configures Slack run notifications. Notifications are off
// unless a webhook URL is set.
type NotifyConfig struct {
	SlackWebhook string `yaml:"slack_webhook"`
	Channel      string `yaml:"channel"`
	Username     string `yaml:"username"`
}

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from a YAML file. Config files hold database
// credentials, so a world-readable file draws a warning.
func Load(path string) (*Config, error) {
	path = expandTilde(path)
	if warn := checkFilePermissions(path); warn != "" {
		fmt.Fprint(os.Stderr, warn)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	applyEndpointDefaults(&c.Source)
	applyEndpointDefaults(&c.Target)

	if c.Migration.ChunkSize <= 0 {
		c.Migration.ChunkSize = 10000
	}
	if c.Migration.SampleLimit <= 0 {
		c.Migration.SampleLimit = 100
	}
	if c.Migration.DataDir == "" {
		c.Migration.DataDir = "./data"
	}
	c.Migration.DataDir = expandTilde(c.Migration.DataDir)
}

func applyEndpointDefaults(e *Endpoint) {
	if e.Type == "" {
		e.Type = "postgres"
	}
	e.Type = strings.ToLower(e.Type)

	if e.Port == 0 {
		switch e.Type {
		case "mssql", "sqlserver":
			e.Port = 1433
		case "mysql":
			e.Port = 3306
		default:
			e.Port = 5432
		}
	}
	if e.Schema == "" {
		switch e.Type {
		case "mssql", "sqlserver":
			e.Schema = "dbo"
		case "mysql":
			e.Schema = e.Database
		default:
			e.Schema = "public"
		}
	}
	if e.SSLMode == "" {
		e.SSLMode = "require"
	}
	if e.Encrypt == "" {
		e.Encrypt = "true"
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("%s/%s", e.Host, e.Database)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validateEndpoint("source", &c.Source); err != nil {
		return err
	}
	if err := validateEndpoint("target", &c.Target); err != nil {
		return err
	}
	return nil
}

func validateEndpoint(which string, e *Endpoint) error {
	if e.Host == "" {
		return fmt.Errorf("%s: host is required", which)
	}
	if e.Database == "" {
		return fmt.Errorf("%s: database is required", which)
	}
	switch e.Type {
	case "postgres", "mssql", "sqlserver", "mysql":
	default:
		return fmt.Errorf("%s: unsupported database type %q (valid: postgres, mssql, mysql)", which, e.Type)
	}
	return nil
}
