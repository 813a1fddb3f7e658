package persist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/atomicfile"
	"github.com/jpalmerr/pulsewatch/internal/stats"
)

// TargetRecord is the persisted form of one target's state.
type TargetRecord struct {
	Status            stats.Status    `json:"status"`
	LastChecked       *string         `json:"lastChecked"`
	TotalChecks       int64           `json:"totalChecks"`
	SuccessCount      int64           `json:"successCount"`
	AverageLatencyMs  float64         `json:"averageLatencyMs"`
	RecentLatenciesMs []int64         `json:"recentLatenciesMs"`
	RecentFailures    []FailureRecord `json:"recentFailures"`
}

// FailureRecord is one persisted failure.
type FailureRecord struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// StatusFile rewrites a JSON document keyed by target URL after each cycle.
type StatusFile struct {
	path string
}

// NewStatusFile returns a sink writing to path.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// Path returns the document location.
func (f *StatusFile) Path() string {
	return f.path
}

// Persist replaces the document with the cycle's snapshot. The file is
// written to a temporary sibling and renamed so readers never see a partial
// document.
func (f *StatusFile) Persist(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(Document(rec.Snapshot), "", "  ")
	if err != nil {
		return &Error{Sink: "status file", Err: err}
	}
	if err := atomicfile.Write(f.path, data); err != nil {
		return &Error{Sink: "status file", Err: err}
	}
	return nil
}

// Document converts a snapshot to the persisted document shape.
func Document(snap stats.Snapshot) map[string]TargetRecord {
	doc := make(map[string]TargetRecord, len(snap.Targets))
	for _, t := range snap.Targets {
		rec := TargetRecord{
			Status:            t.Status,
			TotalChecks:       t.TotalChecks,
			SuccessCount:      t.SuccessCount,
			AverageLatencyMs:  t.AverageLatencyMs,
			RecentLatenciesMs: t.RecentLatenciesMs,
			RecentFailures:    make([]FailureRecord, len(t.RecentFailures)),
		}
		if rec.RecentLatenciesMs == nil {
			rec.RecentLatenciesMs = []int64{}
		}
		if t.LastChecked != nil {
			s := t.LastChecked.UTC().Format(time.RFC3339Nano)
			rec.LastChecked = &s
		}
		for i, fail := range t.RecentFailures {
			rec.RecentFailures[i] = FailureRecord{
				Timestamp: fail.Time.UTC().Format(time.RFC3339Nano),
				Message:   fail.Message,
			}
		}
		doc[t.URL] = rec
	}
	return doc
}
