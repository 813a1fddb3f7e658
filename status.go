package pulsewatch

import (
	"fmt"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/poller"
	"github.com/jpalmerr/pulsewatch/internal/stats"
)

// Status represents the reachability of a target.
//
// A target is [StatusOnline] when the last probe received any HTTP response,
// including 4xx and 5xx. It is [StatusOffline] when the last probe failed
// to get a response at all (DNS, refused connection, timeout, TLS), and
// [StatusUnknown] until its first probe completes.
type Status string

const (
	// StatusUnknown indicates the target has not been probed yet.
	StatusUnknown Status = "unknown"

	// StatusOnline indicates the last probe received an HTTP response.
	StatusOnline Status = "online"

	// StatusOffline indicates the last probe did not receive a response.
	StatusOffline Status = "offline"
)

// String returns the string representation of the status.
// This implements the fmt.Stringer interface.
func (s Status) String() string {
	return string(s)
}

// Failure is one entry of a target's failure log.
type Failure struct {
	Time    time.Time
	Message string
}

// HistogramBucket counts recent latencies in [LowerMs, LowerMs+100).
type HistogramBucket struct {
	LowerMs int64
	Count   int
}

// TargetStatus is the state of one target inside a [Snapshot].
type TargetStatus struct {
	URL    string
	Status Status

	// LastChecked is zero until the first probe completes.
	LastChecked time.Time

	TotalChecks  int64
	SuccessCount int64

	// UptimePercent is meaningful only when UptimeAvailable is true.
	UptimePercent   float64
	UptimeAvailable bool

	// AverageLatencyMs is the running mean over all checks, successful or not.
	AverageLatencyMs float64

	// RecentLatenciesMs and RecentFailures hold at most the last 100 entries,
	// oldest first.
	RecentLatenciesMs []int64
	RecentFailures    []Failure

	Histogram []HistogramBucket

	// BackoffDelay is the current backoff delay; zero when the target is
	// probed every cycle.
	BackoffDelay time.Duration
}

// Uptime formats the uptime percentage with two decimals ("99.50%"), or
// "N/A" before the first check.
func (t TargetStatus) Uptime() string {
	if !t.UptimeAvailable {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", t.UptimePercent)
}

// Snapshot is an immutable copy of every target's state, published once per
// cycle. Modifying a Snapshot never affects the monitor.
type Snapshot struct {
	TakenAt time.Time
	Targets []TargetStatus
}

// Target looks up one target by URL.
func (s Snapshot) Target(url string) (TargetStatus, bool) {
	for _, t := range s.Targets {
		if t.URL == url {
			return t, true
		}
	}
	return TargetStatus{}, false
}

// EventKind identifies the kind of an [Event].
type EventKind string

const (
	// EventStatus carries the outcome of one probe.
	EventStatus EventKind = "status"

	// EventCycle summarises a finished cycle.
	EventCycle EventKind = "cycle"

	// EventError reports a session-level failure such as an empty target list.
	EventError EventKind = "error"
)

// Event is delivered to subscribers and event callbacks.
//
// Which fields are set depends on Kind: status events set URL, Status,
// Latency, StatusCode and Err; cycle events set CycleID, Probed, Skipped,
// Failed and Duration; error events set Err.
type Event struct {
	Kind EventKind

	URL        string
	Status     Status
	Latency    time.Duration
	StatusCode int
	Err        error

	CycleID  string
	Probed   int
	Skipped  int
	Failed   int
	Duration time.Duration

	Time time.Time
}

// toPublicSnapshot converts an internal snapshot, copying every slice.
func toPublicSnapshot(s stats.Snapshot) Snapshot {
	out := Snapshot{
		TakenAt: s.TakenAt,
		Targets: make([]TargetStatus, len(s.Targets)),
	}
	for i, v := range s.Targets {
		t := TargetStatus{
			URL:               v.URL,
			Status:            Status(v.Status),
			TotalChecks:       v.TotalChecks,
			SuccessCount:      v.SuccessCount,
			UptimePercent:     v.UptimePercent,
			UptimeAvailable:   v.UptimeAvailable,
			AverageLatencyMs:  v.AverageLatencyMs,
			RecentLatenciesMs: append([]int64(nil), v.RecentLatenciesMs...),
			RecentFailures:    make([]Failure, len(v.RecentFailures)),
			Histogram:         make([]HistogramBucket, len(v.Histogram)),
			BackoffDelay:      time.Duration(v.BackoffDelayMs) * time.Millisecond,
		}
		if v.LastChecked != nil {
			t.LastChecked = *v.LastChecked
		}
		for j, f := range v.RecentFailures {
			t.RecentFailures[j] = Failure{Time: f.Time, Message: f.Message}
		}
		for j, b := range v.Histogram {
			t.Histogram[j] = HistogramBucket{LowerMs: b.LowerMs, Count: b.Count}
		}
		out.Targets[i] = t
	}
	return out
}

// toPublicEvent converts a scheduler event to the public API type.
func toPublicEvent(ev poller.Event) Event {
	return Event{
		Kind:       EventKind(ev.Kind),
		URL:        ev.URL,
		Status:     Status(ev.Status),
		Latency:    ev.Latency,
		StatusCode: ev.StatusCode,
		Err:        ev.Err,
		CycleID:    ev.CycleID,
		Probed:     ev.Probed,
		Skipped:    ev.Skipped,
		Failed:     ev.Failed,
		Duration:   ev.Duration,
		Time:       ev.Time,
	}
}
