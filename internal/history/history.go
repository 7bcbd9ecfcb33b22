// Package history keeps past runs in a SQLite database (SQLCipher-encrypted when a
// key is given) and answers which candidates actually match, so candidate lists
// can be reordered from evidence.
package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kuitang/pageflow/internal/report"
	"github.com/kuitang/pageflow/internal/resolver"
)

const (
	keySize      = 32
	maxOpenConns = 2
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. A nil key leaves it
// unencrypted; otherwise key must be 32 bytes.
func Open(path string, key []byte) (*Store, error) {
	if key != nil && len(key) != keySize {
		return nil, fmt.Errorf("history key must be exactly %d bytes, got %d", keySize, len(key))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	dsn := path
	if key != nil {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	}
	dsn = appendParams(dsn, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	// A wrong key only shows up on the first read.
	var version string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ParseKey decodes a hex key. An empty string means no encryption.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("history key is not hex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("history key must be %d bytes (%d hex chars)", keySize, keySize*2)
	}
	return key, nil
}

func appendParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a finished report with all its steps and attempts in one transaction.
func (s *Store) RecordRun(ctx context.Context, rep report.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, flow, driver, started_at, finished_at, passed, skipped, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.Flow, rep.Driver, rep.Started.UnixMilli(), rep.Finished.UnixMilli(),
		rep.Passed, rep.Skipped, rep.Failed)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stepStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO steps (run_id, seq, name, action, policy, status, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare steps: %w", err)
	}
	defer stepStmt.Close()
	attemptStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attempts (run_id, step_seq, seq, label, selector, strategy, kind, reason, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attempts: %w", err)
	}
	defer attemptStmt.Close()

	for i, st := range rep.Steps {
		if _, err := stepStmt.ExecContext(ctx, rep.RunID, i, st.Name, st.Action, string(st.Policy), st.Status, st.Error, st.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert step %d: %w", i, err)
		}
		for j, a := range st.Attempts {
			label := a.Candidate.Label
			if label == "" {
				label = st.Name
			}
			if _, err := attemptStmt.ExecContext(ctx, rep.RunID, i, j, label, a.Candidate.Selector,
				string(a.Strategy), string(a.Kind), a.Reason, a.Elapsed.Milliseconds()); err != nil {
				return fmt.Errorf("insert attempt %d.%d: %w", i, j, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SelectorStat summarizes how one selector fared for a label across all runs.
type SelectorStat struct {
	Selector string
	// Kind is css, xpath or text.
	Kind     string
	Found    int
	Missed   int
	Failed   int
	LastSeen time.Time
}

// HitRate is the share of lookups that found the element.
func (s SelectorStat) HitRate() float64 {
	total := s.Found + s.Missed
	if total == 0 {
		return 0
	}
	return float64(s.Found) / float64(total)
}

// SelectorStats returns per-selector counts for label, best hit rate first.
func (s *Store) SelectorStats(ctx context.Context, label string) ([]SelectorStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.selector,
		       selector_kind(a.selector),
		       SUM(CASE WHEN a.kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN a.kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN a.kind IN (?, ?) THEN 1 ELSE 0 END),
		       MAX(r.started_at)
		FROM attempts a JOIN runs r ON r.run_id = a.run_id
		WHERE a.label = ?
		GROUP BY a.selector`,
		string(resolver.Found), string(resolver.CandidateNotFound),
		string(resolver.ActionError), string(resolver.VerificationFailed), label)
	if err != nil {
		return nil, fmt.Errorf("query selector stats: %w", err)
	}
	defer rows.Close()

	var out []SelectorStat
	for rows.Next() {
		var st SelectorStat
		var last int64
		if err := rows.Scan(&st.Selector, &st.Kind, &st.Found, &st.Missed, &st.Failed, &last); err != nil {
			return nil, fmt.Errorf("scan selector stats: %w", err)
		}
		st.LastSeen = time.UnixMilli(last).UTC()
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortStats(out)
	return out, nil
}

func sortStats(stats []SelectorStat) {
	sort.SliceStable(stats, func(i, j int) bool { return better(stats[i], stats[j]) })
}

func better(a, b SelectorStat) bool {
	if a.HitRate() != b.HitRate() {
		return a.HitRate() > b.HitRate()
	}
	return a.Found > b.Found
}

// RunSummary is one row of the run list.
type RunSummary struct {
	RunID   string
	Flow    string
	Driver  string
	Started time.Time
	Passed  int
	Skipped int
	Failed  int
}

// RecentRuns lists the latest runs of flow (all flows when empty), newest first.
func (s *Store) RecentRuns(ctx context.Context, flow string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, flow, driver, started_at, passed, skipped, failed
		FROM runs WHERE (? = '' OR flow = ?)
		ORDER BY started_at DESC LIMIT ?`, flow, flow, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started int64
		if err := rows.Scan(&r.RunID, &r.Flow, &r.Driver, &started, &r.Passed, &r.Skipped, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.UnixMilli(started).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
