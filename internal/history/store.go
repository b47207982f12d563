// Package history persists assembly run records in SQLite so operators can
// inspect past outcomes. Use ":memory:" as the path for an ephemeral store.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/docpress/internal/assemble"
)

// Record is one persisted assembly run.
type Record struct {
	ID           int64             `json:"id"`
	RunID        string            `json:"run_id"`
	ManifestHash string            `json:"manifest_hash"`
	Outcome      assemble.Outcome  `json:"outcome"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	CacheHit     bool              `json:"cache_hit"`
	AssetsStaged int               `json:"assets_staged"`
	PagesStaged  int               `json:"pages_staged"`
	BrokenLinks  int               `json:"broken_links"`
	Issues       []assemble.Issue  `json:"issues,omitempty"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and if needed creates) the history database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		manifest_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		start INTEGER NOT NULL,
		end INTEGER NOT NULL,
		cache_hit INTEGER NOT NULL,
		assets_staged INTEGER NOT NULL,
		pages_staged INTEGER NOT NULL,
		broken_links INTEGER NOT NULL,
		issues TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_start ON runs(start);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists one finished assembly report.
func (s *Store) RecordRun(ctx context.Context, report *assemble.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var issuesJSON []byte
	if len(report.Issues) > 0 {
		var err error
		issuesJSON, err = json.Marshal(report.Issues)
		if err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, manifest_hash, outcome, start, end, cache_hit, assets_staged, pages_staged, broken_links, issues)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.ManifestHash, string(report.Outcome),
		report.Start.Unix(), report.End.Unix(), boolToInt(report.CacheHit),
		report.AssetsStaged, report.PagesStaged, report.BrokenLinks, issuesJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByRunID retrieves a single run by its identifier.
func (s *Store) ByRunID(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM runs WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	return &records[0], nil
}

// LastOutcome returns the outcome of the most recent run, or empty when no
// run has been recorded yet.
func (s *Store) LastOutcome(ctx context.Context) (assemble.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var outcome string
	err := s.db.QueryRowContext(ctx, "SELECT outcome FROM runs ORDER BY id DESC LIMIT 1").Scan(&outcome)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last outcome: %w", err)
	}
	return assemble.Outcome(outcome), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

const selectColumns = "SELECT id, run_id, manifest_hash, outcome, start, end, cache_hit, assets_staged, pages_staged, broken_links, issues"

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var outcome string
		var start, end int64
		var cacheHit int
		var issuesJSON []byte

		err := rows.Scan(&r.ID, &r.RunID, &r.ManifestHash, &outcome, &start, &end,
			&cacheHit, &r.AssetsStaged, &r.PagesStaged, &r.BrokenLinks, &issuesJSON)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = assemble.Outcome(outcome)
		r.Start = time.Unix(start, 0)
		r.End = time.Unix(end, 0)
		r.CacheHit = cacheHit != 0
		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &r.Issues); err != nil {
				return nil, fmt.Errorf("unmarshal issues: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
