// Package runstate persists migration runs in SQLite: the phase state
// machine, timings, per-table copy outcomes, and the write-once validation
// report.
package runstate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the run lifecycle state. It only advances; a restarted
// migration creates a new run instead of reusing a terminal one.
type Status string

const (
	StatusStarted             Status = "started"
	StatusStructureInProgress Status = "structure_in_progress"
	StatusStructureComplete   Status = "structure_complete"
	StatusFailedStructure     Status = "failed_structure"
	StatusDataInProgress      Status = "data_in_progress"
	StatusSuccess             Status = "success"
	StatusPartial             Status = "partial"
	StatusFailed              Status = "failed"
)

// statusRank orders the lifecycle for the monotonicity check. Terminal
// states share the top rank.
var statusRank = map[Status]int{
	StatusStarted:             0,
	StatusStructureInProgress: 1,
	StatusStructureComplete:   2,
	StatusDataInProgress:      3,
	StatusFailedStructure:     9,
	StatusSuccess:             9,
	StatusPartial:             9,
	StatusFailed:              9,
}

// Terminal reports whether a status ends the run.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailedStructure, StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Run is one migration attempt.
type Run struct {
	ID                      string
	SourceID                string
	TargetID                string
	Status                  Status
	CreatedAt               time.Time
	StartedAt               *time.Time
	StructureStartedAt      *time.Time
	DataCompletedAt         *time.Time
	CompletedAt             *time.Time
	DurationMs              int64
	StructureDataDurationMs int64
	MigratedRows            int64
	FailedRows              int64
}

// TableOutcome is a persisted per-table copy result.
type TableOutcome struct {
	RunID      string
	TableName  string
	Status     string
	RowsCopied int64
	Error      string
}

// Store manages run state in SQLite.
type Store struct {
	db *sql.DB
}

const timeLayout = time.RFC3339Nano

// New opens (and migrates) the state database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "dbferry.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		started_at TEXT,
		structure_started_at TEXT,
		data_completed_at TEXT,
		completed_at TEXT,
		duration_ms INTEGER DEFAULT 0,
		structure_data_duration_ms INTEGER DEFAULT 0,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'started',
		migrated_rows INTEGER DEFAULT 0,
		failed_rows INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS table_outcomes (
		run_id TEXT REFERENCES runs(id),
		table_name TEXT NOT NULL,
		status TEXT NOT NULL,
		rows_copied INTEGER DEFAULT 0,
		error_message TEXT,
		PRIMARY KEY (run_id, table_name)
	);

	CREATE TABLE IF NOT EXISTS validation_reports (
		run_id TEXT PRIMARY KEY REFERENCES runs(id),
		created_at TEXT NOT NULL,
		report TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// CreateRun inserts a new run in status started.
func (s *Store) CreateRun(id, sourceID, targetID string) error {
	ts := now()
	_, err := s.db.Exec(`
		INSERT INTO runs (id, created_at, started_at, source_id, target_id, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, ts, ts, sourceID, targetID, StatusStarted)
	return err
}

// SetStatus advances a run's status. Regressions and transitions out of a
// terminal state are rejected: the lifecycle is monotonic.
func (s *Store) SetStatus(id string, status Status) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already terminal (%s)", id, run.Status)
	}
	if statusRank[status] < statusRank[run.Status] {
		return fmt.Errorf("run %s: cannot move status backwards from %s to %s", id, run.Status, status)
	}

	switch status {
	case StatusStructureInProgress:
		_, err = s.db.Exec(`UPDATE runs SET status = ?, structure_started_at = ? WHERE id = ?`,
			status, now(), id)
	default:
		_, err = s.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, id)
	}
	return err
}

// MarkDataComplete stamps the data phase end time.
func (s *Store) MarkDataComplete(id string) error {
	_, err := s.db.Exec(`UPDATE runs SET data_completed_at = ? WHERE id = ?`, now(), id)
	return err
}

// CompleteRun sets a terminal status, row totals, and duration fields.
func (s *Store) CompleteRun(id string, status Status, migratedRows, failedRows int64) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}

	completed := time.Now().UTC()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = completed.Sub(*run.StartedAt).Milliseconds()
	}
	var structDataMs int64
	if run.StructureStartedAt != nil && run.DataCompletedAt != nil {
		structDataMs = run.DataCompletedAt.Sub(*run.StructureStartedAt).Milliseconds()
	}

	_, err = s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, duration_ms = ?,
			structure_data_duration_ms = ?, migrated_rows = ?, failed_rows = ?
		WHERE id = ?
	`, status, completed.Format(timeLayout), durationMs, structDataMs, migratedRows, failedRows, id)
	return err
}

// GetRun fetches one run, nil if absent.
func (s *Store) GetRun(id string) (*Run, error) {
	return s.scanRun(s.db.QueryRow(`
		SELECT id, created_at, started_at, structure_started_at, data_completed_at,
			completed_at, duration_ms, structure_data_duration_ms,
			source_id, target_id, status, migrated_rows, failed_rows
		FROM runs WHERE id = ?
	`, id))
}

// LastRun returns the most recently created run, nil when there is none.
func (s *Store) LastRun() (*Run, error) {
	return s.scanRun(s.db.QueryRow(`
		SELECT id, created_at, started_at, structure_started_at, data_completed_at,
			completed_at, duration_ms, structure_data_duration_ms,
			source_id, target_id, status, migrated_rows, failed_rows
		FROM runs ORDER BY created_at DESC LIMIT 1
	`))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (*Run, error) {
	var r Run
	var createdAt string
	var startedAt, structureStartedAt, dataCompletedAt, completedAt sql.NullString
	err := row.Scan(&r.ID, &createdAt, &startedAt, &structureStartedAt,
		&dataCompletedAt, &completedAt, &r.DurationMs, &r.StructureDataDurationMs,
		&r.SourceID, &r.TargetID, &r.Status, &r.MigratedRows, &r.FailedRows)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	r.StartedAt = parseNullTime(startedAt)
	r.StructureStartedAt = parseNullTime(structureStartedAt)
	r.DataCompletedAt = parseNullTime(dataCompletedAt)
	r.CompletedAt = parseNullTime(completedAt)
	return &r, nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, started_at, structure_started_at, data_completed_at,
			completed_at, duration_ms, structure_data_duration_ms,
			source_id, target_id, status, migrated_rows, failed_rows
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// SaveTableOutcome upserts one table's copy result for a run.
func (s *Store) SaveTableOutcome(runID, tableName, status string, rowsCopied int64, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO table_outcomes (run_id, table_name, status, rows_copied, error_message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, table_name) DO UPDATE SET
			status = excluded.status,
			rows_copied = excluded.rows_copied,
			error_message = excluded.error_message
	`, runID, tableName, status, rowsCopied, errMsg)
	return err
}

// TableOutcomes lists per-table results for a run.
func (s *Store) TableOutcomes(runID string) ([]TableOutcome, error) {
	rows, err := s.db.Query(`
		SELECT run_id, table_name, status, rows_copied, COALESCE(error_message, '')
		FROM table_outcomes WHERE run_id = ? ORDER BY table_name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []TableOutcome
	for rows.Next() {
		var o TableOutcome
		if err := rows.Scan(&o.RunID, &o.TableName, &o.Status, &o.RowsCopied, &o.Error); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// SaveValidationReport persists a report exactly once per run. A second
// write for the same run is rejected: reports are immutable after creation.
func (s *Store) SaveValidationReport(runID string, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("serializing report: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO validation_reports (run_id, created_at, report)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, runID, now(), string(data))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("validation report for run %s already exists", runID)
	}
	return nil
}

// ValidationReport returns the stored report JSON, empty if none.
func (s *Store) ValidationReport(runID string) (string, error) {
	var report string
	err := s.db.QueryRow(`SELECT report FROM validation_reports WHERE run_id = ?`, runID).Scan(&report)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return report, err
}
