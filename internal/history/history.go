// Package history provides the SQLite-backed append-only audit log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/murmur/internal/models"
)

// Store is the append-only, time-ordered record of observations of
// interest, detections, and fix outcomes. Appends take a short exclusive
// write; reads never block behind more than one append.
type Store struct {
	db *sql.DB
}

// New creates a Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode so readers proceed during appends.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		rule TEXT,
		source TEXT,
		target TEXT,
		outcome TEXT,
		detail TEXT,
		seq INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);
	CREATE INDEX IF NOT EXISTS idx_history_kind ON history(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append inserts one record. Records are immutable after append; an
// empty ID is assigned.
func (s *Store) Append(rec models.HistoryRecord) (*models.HistoryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO history (id, kind, rule, source, target, outcome, detail, seq, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Rule, rec.Source, rec.Target, rec.Outcome, rec.Detail, rec.Seq, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	return &rec, nil
}

// Query returns records at or after since, optionally filtered by kind,
// in ascending (timestamp, seq) order.
func (s *Store) Query(since time.Time, kinds []models.RecordKind, limit int) ([]models.HistoryRecord, error) {
	query := `SELECT id, kind, rule, source, target, outcome, detail, seq, timestamp FROM history WHERE timestamp >= ?`
	args := []interface{}{since}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY timestamp ASC, seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.scanRecords(query, args...)
}

// Recent returns the newest limit records in ascending order.
func (s *Store) Recent(limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	recs, err := s.scanRecords(
		`SELECT id, kind, rule, source, target, outcome, detail, seq, timestamp FROM history ORDER BY timestamp DESC, seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	// Reverse to ascending for display.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

// Prune evicts the oldest records beyond the size and age bounds. The
// newest keepRecent records survive regardless of age so last known
// status is always answerable. Returns the number of evicted rows.
func (s *Store) Prune(maxRecords int, maxAge time.Duration, keepRecent int) (int64, error) {
	protected := keepRecent
	if maxRecords > protected {
		protected = maxRecords
	}

	var evicted int64

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge)
		res, err := s.db.Exec(
			`DELETE FROM history WHERE timestamp < ?
			 AND id NOT IN (SELECT id FROM history ORDER BY timestamp DESC, seq DESC LIMIT ?)`,
			cutoff, keepRecent,
		)
		if err != nil {
			return evicted, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		evicted += n
	}

	if maxRecords > 0 {
		res, err := s.db.Exec(
			`DELETE FROM history WHERE id IN
			 (SELECT id FROM history ORDER BY timestamp DESC, seq DESC LIMIT -1 OFFSET ?)`,
			protected,
		)
		if err != nil {
			return evicted, fmt.Errorf("prune by size: %w", err)
		}
		n, _ := res.RowsAffected()
		evicted += n
	}

	return evicted, nil
}

func (s *Store) scanRecords(query string, args ...interface{}) ([]models.HistoryRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var recs []models.HistoryRecord
	for rows.Next() {
		var rec models.HistoryRecord
		var rule, source, target, outcome, detail sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Kind, &rule, &source, &target, &outcome, &detail, &rec.Seq, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Rule = rule.String
		rec.Source = source.String
		rec.Target = target.String
		rec.Outcome = outcome.String
		rec.Detail = detail.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
