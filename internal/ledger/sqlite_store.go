// Package ledger records conversion runs and per-region outcomes in SQLite.
package ledger

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunParams contains the settings a run was started with.
type RunParams struct {
	InputDir      string   `json:"input_dir"`
	OutputDir     string   `json:"output_dir"`
	Prefix        string   `json:"prefix,omitempty"`
	Regions       []string `json:"regions,omitempty"`
	Preset        string   `json:"preset,omitempty"`
	Levels        int      `json:"levels"`
	Factor        int      `json:"factor"`
	Compression   string   `json:"compression"`
	Strength      int      `json:"strength"`
	ChunkSize     int      `json:"chunk_size"`
	Magnification float64  `json:"magnification"`
}

// Run is one invocation of the converter.
type Run struct {
	ID           string     `json:"run_id"`
	Status       RunStatus  `json:"status"`
	Params       RunParams  `json:"params"`
	FilesFound   int        `json:"files_found"`
	FilesMatched int        `json:"files_matched"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RegionResult is the recorded outcome of one region.
type RegionResult struct {
	RunID      string    `json:"run_id"`
	RegionID   string    `json:"region_id"`
	Store      string    `json:"store"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Channels   []string  `json:"channels"`
	Levels     int       `json:"levels"`
	Bytes      int64     `json:"bytes"`
	Published  string    `json:"published,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// timeFormat sorts lexically in the same order as the instants it encodes.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// ErrNoLedger is returned by consumers when no ledger is configured.
var ErrNoLedger = errors.New("run ledger is not configured")

// Store provides persistent storage for runs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens or creates the ledger database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		files_found INTEGER DEFAULT 0,
		files_matched INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS region_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		region_id TEXT NOT NULL,
		store TEXT NOT NULL,
		status TEXT NOT NULL,
		kind TEXT DEFAULT '',
		error TEXT DEFAULT '',
		channels_json TEXT NOT NULL,
		levels INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		published TEXT DEFAULT '',
		finished_at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_region_results_run ON region_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_region_results_store ON region_results(store);
	`
	_, err := s.db.Exec(schema)
	return err
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateRun records a new run with status=running.
func (s *Store) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, status, params_json, files_found, files_matched, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		string(paramsJSON),
		run.FilesFound,
		run.FilesMatched,
		run.Error,
		run.CreatedAt.UTC().Format(timeFormat),
		nil,
	)
	return err
}

// FinishRun sets the final status and discovery counts of a run.
func (s *Store) FinishRun(runID string, status RunStatus, found, matched int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, files_found = ?, files_matched = ?, error = ?, finished_at = ?
		WHERE run_id = ?
	`, string(status), found, matched, errMsg, now, runID)
	return err
}

// RecordRegion appends the outcome of one region.
func (s *Store) RecordRegion(r *RegionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelsJSON, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO region_results (run_id, region_id, store, status, kind, error, channels_json, levels, bytes, published, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID, r.RegionID, r.Store, r.Status, r.Kind, r.Error,
		string(channelsJSON), r.Levels, r.Bytes, r.Published,
		r.FinishedAt.UTC().Format(timeFormat),
	)
	return err
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (s *Store) GetRun(runID string) (*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, status, params_json, files_found, files_matched, error, created_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, status, params_json, files_found, files_matched, error, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListRegions returns the region outcomes of a run in recording order.
func (s *Store) ListRegions(runID string) ([]*RegionResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, region_id, store, status, kind, error, channels_json, levels, bytes, published, finished_at
		FROM region_results WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRegions(rows)
}

// LatestForStore returns the most recent outcome recorded for a store name,
// or nil when none exists.
func (s *Store) LatestForStore(store string) (*RegionResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, region_id, store, status, kind, error, channels_json, levels, bytes, published, finished_at
		FROM region_results WHERE store = ?
		ORDER BY id DESC LIMIT 1
	`, store)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results, err := scanRegions(rows)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// MarkRunningAsFailed marks runs left running by a crashed process as failed.
func (s *Store) MarkRunningAsFailed(errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeFormat)
	result, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(RunStatusFailed), errMsg, now, string(RunStatusRunning))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpiredRuns deletes finished runs older than retentionDays.
func (s *Store) DeleteExpiredRuns(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(timeFormat)

	// Delete region rows first (foreign key)
	_, err := s.db.Exec(`
		DELETE FROM region_results WHERE run_id IN (
			SELECT run_id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var run Run
		var paramsJSON string
		var createdAtStr string
		var finishedAtStr sql.NullString

		err := rows.Scan(
			&run.ID,
			&run.Status,
			&paramsJSON,
			&run.FilesFound,
			&run.FilesMatched,
			&run.Error,
			&createdAtStr,
			&finishedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		run.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
		if finishedAtStr.Valid {
			t, _ := time.Parse(timeFormat, finishedAtStr.String)
			run.FinishedAt = &t
		}

		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func scanRegions(rows *sql.Rows) ([]*RegionResult, error) {
	var results []*RegionResult
	for rows.Next() {
		var r RegionResult
		var channelsJSON, finishedAtStr string
		err := rows.Scan(
			&r.RunID, &r.RegionID, &r.Store, &r.Status, &r.Kind, &r.Error,
			&channelsJSON, &r.Levels, &r.Bytes, &r.Published, &finishedAtStr,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(channelsJSON), &r.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
		r.FinishedAt, _ = time.Parse(timeFormat, finishedAtStr)
		results = append(results, &r)
	}
	return results, rows.Err()
}
