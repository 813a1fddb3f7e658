package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS checks (
	id          TEXT PRIMARY KEY,
	cycle_id    TEXT NOT NULL,
	url         TEXT NOT NULL,
	checked_at  TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_checks_url_checked_at ON checks (url, checked_at DESC);
`

// HistoryDB appends every check to a SQLite table.
type HistoryDB struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the history database at path.
func OpenHistory(ctx context.Context, path string) (*HistoryDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open history database: %w", err)
	}
	// single writer; keeps pragmas on one connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &HistoryDB{db: db}, nil
}

// Close closes the database.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

// Persist inserts the cycle's checks in one transaction.
func (h *HistoryDB) Persist(ctx context.Context, rec Record) error {
	if len(rec.Checks) == 0 {
		return nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Sink: "history", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO checks (id, cycle_id, url, checked_at, ok, status_code, latency_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &Error{Sink: "history", Err: err}
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range rec.Checks {
		var errText sql.NullString
		if c.Error != "" {
			errText = sql.NullString{String: c.Error, Valid: true}
		}
		ok := 0
		if c.OK {
			ok = 1
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(),
			rec.CycleID,
			c.URL,
			c.CheckedAt.UTC().Format(time.RFC3339Nano),
			ok,
			c.StatusCode,
			c.LatencyMs,
			errText,
		); err != nil {
			return &Error{Sink: "history", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Sink: "history", Err: err}
	}
	return nil
}

// Recent returns up to limit checks for url, newest first.
func (h *HistoryDB) Recent(ctx context.Context, url string, limit int) ([]Check, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT url, checked_at, ok, status_code, latency_ms, error
		   FROM checks WHERE url = ? ORDER BY checked_at DESC LIMIT ?`, url, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var checks []Check
	for rows.Next() {
		var (
			c         Check
			checkedAt string
			ok        int
			errText   sql.NullString
		)
		if err := rows.Scan(&c.URL, &checkedAt, &ok, &c.StatusCode, &c.LatencyMs, &errText); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		c.CheckedAt, err = time.Parse(time.RFC3339Nano, checkedAt)
		if err != nil {
			return nil, fmt.Errorf("parse checked_at %q: %w", checkedAt, err)
		}
		c.OK = ok == 1
		c.Error = errText.String
		checks = append(checks, c)
	}
	return checks, rows.Err()
}
