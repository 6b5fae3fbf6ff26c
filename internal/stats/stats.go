// Package stats is the domain-stack SQLite delivery-statistics store
// (SPEC_FULL.md §3, §4 "internal/stats"). It persists per-peer send
// counters only — never message content — so it does not reintroduce the
// "persistence of message history" non-goal (spec.md §1 Non-goals).
// Schema/pragma setup is grounded on internal/storage/db.go's Open().
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed counter table keyed by peer address.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the stats database at path, configuring WAL mode
// the same way internal/storage/db.go does.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create stats dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure stats db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_stats (
			address        TEXT PRIMARY KEY,
			attempts       INTEGER NOT NULL DEFAULT 0,
			successes      INTEGER NOT NULL DEFAULT 0,
			failures       INTEGER NOT NULL DEFAULT 0,
			last_attempt   DATETIME,
			last_success   DATETIME
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create delivery_stats: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordAttempt increments the attempt counter for address and records
// success/failure of that attempt.
func (s *Store) RecordAttempt(address string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if success {
		_, err := s.db.Exec(`
			INSERT INTO delivery_stats (address, attempts, successes, last_attempt, last_success)
			VALUES (?, 1, 1, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				attempts = attempts + 1,
				successes = successes + 1,
				last_attempt = excluded.last_attempt,
				last_success = excluded.last_success
		`, address, now, now)
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO delivery_stats (address, attempts, failures, last_attempt)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(address) DO UPDATE SET
			attempts = attempts + 1,
			failures = failures + 1,
			last_attempt = excluded.last_attempt
	`, address, now)
	return err
}

// Counters is a snapshot of one peer's delivery counters.
type Counters struct {
	Address     string
	Attempts    int64
	Successes   int64
	Failures    int64
	LastAttempt time.Time
	LastSuccess time.Time
}

// Get returns the counters for address, if any have been recorded.
func (s *Store) Get(address string) (Counters, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counters
	var lastAttempt, lastSuccess sql.NullTime
	row := s.db.QueryRow(`
		SELECT address, attempts, successes, failures, last_attempt, last_success
		FROM delivery_stats WHERE address = ?
	`, address)
	err := row.Scan(&c.Address, &c.Attempts, &c.Successes, &c.Failures, &lastAttempt, &lastSuccess)
	if err == sql.ErrNoRows {
		return Counters{}, false, nil
	}
	if err != nil {
		return Counters{}, false, err
	}
	c.LastAttempt = lastAttempt.Time
	c.LastSuccess = lastSuccess.Time
	return c, true, nil
}
