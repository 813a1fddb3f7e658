package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BucketWidthMs is the width of a latency histogram bucket.
const BucketWidthMs = 100

// Bucket is one latency histogram bin covering [LowerMs, LowerMs+BucketWidthMs).
type Bucket struct {
	LowerMs int64 `json:"lower_ms"`
	Count   int   `json:"count"`
}

// TargetView is the read-only projection of one target inside a [Snapshot].
type TargetView struct {
	URL               string     `json:"url"`
	Status            Status     `json:"status"`
	LastChecked       *time.Time `json:"last_checked"`
	TotalChecks       int64      `json:"total_checks"`
	SuccessCount      int64      `json:"success_count"`
	UptimePercent     float64    `json:"uptime_percent"`
	UptimeAvailable   bool       `json:"uptime_available"`
	AverageLatencyMs  float64    `json:"average_latency_ms"`
	RecentLatenciesMs []int64    `json:"recent_latencies_ms"`
	RecentFailures    []Failure  `json:"recent_failures"`
	Histogram         []Bucket   `json:"histogram"`
	BackoffDelayMs    int64      `json:"backoff_delay_ms"`
}

// Uptime formats the uptime percentage with two decimals, or "N/A" when the
// target has not been checked yet.
func (v TargetView) Uptime() string {
	if !v.UptimeAvailable {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", v.UptimePercent)
}

// Snapshot is a point-in-time copy of all target states. It shares no memory
// with the aggregator and is never mutated after construction.
type Snapshot struct {
	TakenAt time.Time    `json:"taken_at"`
	Targets []TargetView `json:"targets"`
}

// Target looks up a target view by URL.
func (s Snapshot) Target(url string) (TargetView, bool) {
	for _, t := range s.Targets {
		if t.URL == url {
			return t, true
		}
	}
	return TargetView{}, false
}

// Snapshot projects the current state of every target. delays carries the
// current backoff delay per URL and may be nil.
func (a *Aggregator) Snapshot(now time.Time, delays map[string]time.Duration) Snapshot {
	views := make([]TargetView, 0, len(a.order))
	for _, url := range a.order {
		s := a.states[url]

		view := TargetView{
			URL:               s.URL,
			Status:            s.Status,
			TotalChecks:       s.TotalChecks,
			SuccessCount:      s.SuccessCount,
			AverageLatencyMs:  s.AverageLatencyMs,
			RecentLatenciesMs: s.latencies.values(),
			RecentFailures:    s.failures.values(),
			BackoffDelayMs:    delays[url].Milliseconds(),
		}
		if !s.LastChecked.IsZero() {
			t := s.LastChecked
			view.LastChecked = &t
		}
		view.UptimePercent, view.UptimeAvailable = Uptime(s.SuccessCount, s.TotalChecks)
		view.Histogram = Histogram(view.RecentLatenciesMs)

		views = append(views, view)
	}

	return Snapshot{TakenAt: now, Targets: views}
}

// Uptime returns successCount/totalChecks*100. The second result is false
// when no check has completed, in which case the percentage is meaningless.
func Uptime(successCount, totalChecks int64) (float64, bool) {
	if totalChecks == 0 {
		return 0, false
	}
	return float64(successCount) / float64(totalChecks) * 100, true
}

// Histogram buckets latencies by floor(latency/100)*100, sorted by bucket.
func Histogram(latenciesMs []int64) []Bucket {
	counts := make(map[int64]int)
	for _, l := range latenciesMs {
		if l < 0 {
			l = 0
		}
		counts[l/BucketWidthMs*BucketWidthMs]++
	}

	buckets := make([]Bucket, 0, len(counts))
	for lower, n := range counts {
		buckets = append(buckets, Bucket{LowerMs: lower, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].LowerMs < buckets[j].LowerMs })
	return buckets
}

// FormatHistogram renders buckets as "0-99ms: 3, 100-199ms: 1".
func FormatHistogram(buckets []Bucket) string {
	parts := make([]string, len(buckets))
	for i, b := range buckets {
		parts[i] = fmt.Sprintf("%d-%dms: %d", b.LowerMs, b.LowerMs+BucketWidthMs-1, b.Count)
	}
	return strings.Join(parts, ", ")
}
