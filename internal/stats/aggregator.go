package stats

import (
	"errors"
	"fmt"
	"time"
)

// HistorySize is the capacity of the latency and failure rings of each target.
const HistorySize = 100

// ErrUnknownTarget is returned when recording an outcome for a URL the
// aggregator was not created with.
var ErrUnknownTarget = errors.New("unknown target")

// Status is the reachability state of a target.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Outcome is the result of a single probe, as seen by the aggregator.
type Outcome struct {
	OK         bool
	LatencyMs  int64
	StatusCode int
	Error      string
	CheckedAt  time.Time
}

// Failure is one entry of a target's failure log.
type Failure struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// TargetState is the mutable statistics record of one target.
type TargetState struct {
	URL              string
	Status           Status
	LastChecked      time.Time
	TotalChecks      int64
	SuccessCount     int64
	AverageLatencyMs float64

	latencies *ring[int64]
	failures  *ring[Failure]
}

func newTargetState(url string) *TargetState {
	return &TargetState{
		URL:       url,
		Status:    StatusUnknown,
		latencies: newRing[int64](HistorySize),
		failures:  newRing[Failure](HistorySize),
	}
}

// RecentLatenciesMs returns the buffered latencies, oldest first.
func (s *TargetState) RecentLatenciesMs() []int64 {
	return s.latencies.values()
}

// RecentFailures returns the buffered failures, oldest first.
func (s *TargetState) RecentFailures() []Failure {
	return s.failures.values()
}

// Aggregator holds the state of every target in registration order.
type Aggregator struct {
	order  []string
	states map[string]*TargetState
}

// NewAggregator creates an aggregator with fresh state for each target.
// Duplicate URLs are collapsed onto the first occurrence.
func NewAggregator(targets []string) *Aggregator {
	a := &Aggregator{
		order:  make([]string, 0, len(targets)),
		states: make(map[string]*TargetState, len(targets)),
	}
	for _, url := range targets {
		if _, exists := a.states[url]; exists {
			continue
		}
		a.order = append(a.order, url)
		a.states[url] = newTargetState(url)
	}
	return a
}

// Targets returns the monitored URLs in registration order.
func (a *Aggregator) Targets() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// State returns the live state of a target. Callers must not retain it past
// the current cycle.
func (a *Aggregator) State(url string) (*TargetState, bool) {
	s, ok := a.states[url]
	return s, ok
}

// Record folds one probe outcome into the target's statistics.
//
// Both successes and failures count toward TotalChecks and the latency mean:
// avg' = (avg*(n-1) + latency) / n.
func (a *Aggregator) Record(url string, o Outcome) error {
	s, ok := a.states[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, url)
	}

	latency := o.LatencyMs
	if latency < 0 {
		latency = 0
	}

	s.LastChecked = o.CheckedAt
	s.TotalChecks++
	n := float64(s.TotalChecks)
	s.AverageLatencyMs = (s.AverageLatencyMs*(n-1) + float64(latency)) / n
	s.latencies.push(latency)

	if o.OK {
		s.Status = StatusOnline
		s.SuccessCount++
		return nil
	}

	s.Status = StatusOffline
	s.failures.push(Failure{Time: o.CheckedAt, Message: o.Error})
	return nil
}
