// Package persist writes the results of each probe cycle to durable storage.
//
// Two sinks are provided: [StatusFile], the JSON status document rewritten
// in full after every cycle, and [HistoryDB], an append-only SQLite table of
// individual checks.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/stats"
)

// Check is one probe result inside a cycle.
type Check struct {
	URL        string    `json:"url"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Record is everything a sink may need about a finished cycle.
type Record struct {
	CycleID  string
	At       time.Time
	Snapshot stats.Snapshot
	Checks   []Check
}

// Persister stores one cycle record.
type Persister interface {
	Persist(ctx context.Context, rec Record) error
}

// Error wraps a failure of a named sink.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
