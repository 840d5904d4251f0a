// Package stats keeps per-day, per-title counts of masked sentences.
package stats

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const dayLayout = "2006-01-02"

// Store persists mask counts in SQLite. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Count is one day's total for one title.
type Count struct {
	Day     string `json:"day"`
	TitleID string `json:"title_id"`
	Masked  int    `json:"masked"`
}

// Open opens or creates the database at dbPath. ":memory:" gives a private
// in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("stats: open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: ping database: %w", err)
	}
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("stats: enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mask_counts (
		day TEXT NOT NULL,
		title_id TEXT NOT NULL,
		masked INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, title_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Add increments the count for titleID on the day of at.
func (s *Store) Add(at time.Time, titleID string, n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO mask_counts (day, title_id, masked) VALUES (?, ?, ?)
		ON CONFLICT(day, title_id) DO UPDATE SET masked = masked + excluded.masked`,
		at.Local().Format(dayLayout), titleID, n)
	if err != nil {
		return fmt.Errorf("stats: add: %w", err)
	}
	return nil
}

// Day returns the counts for the day of at, highest first.
func (s *Store) Day(at time.Time) ([]Count, error) {
	return s.query(`
		SELECT day, title_id, masked FROM mask_counts
		WHERE day = ? ORDER BY masked DESC, title_id`,
		at.Local().Format(dayLayout))
}

// Since returns every count from the day of from onwards, newest day first.
func (s *Store) Since(from time.Time) ([]Count, error) {
	return s.query(`
		SELECT day, title_id, masked FROM mask_counts
		WHERE day >= ? ORDER BY day DESC, masked DESC, title_id`,
		from.Local().Format(dayLayout))
}

// Total sums all counts for the day of at, the popup's "blocked today".
func (s *Store) Total(at time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(masked) FROM mask_counts WHERE day = ?`,
		at.Local().Format(dayLayout)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("stats: total: %w", err)
	}
	return int(total.Int64), nil
}

// Prune deletes days before the day of before and returns the rows removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM mask_counts WHERE day < ?`, before.Local().Format(dayLayout))
	if err != nil {
		return 0, fmt.Errorf("stats: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(q string, args ...any) ([]Count, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("stats: query: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Day, &c.TitleID, &c.Masked); err != nil {
			return nil, fmt.Errorf("stats: scan row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
