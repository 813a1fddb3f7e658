package store

import "time"

// Event is the storage and wire representation of a scheduler event,
// shaped for JSON (used by the REST API and SSE).
type Event struct {
	// Kind is "status", "cycle" or "error".
	Kind string `json:"kind"`

	// URL is the probed target (status events).
	URL string `json:"url,omitempty"`

	// Status is "online" or "offline" (status events).
	Status string `json:"status,omitempty"`

	// LatencyMs is the probe latency in milliseconds.
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// StatusCode is the HTTP status code, zero when no response arrived.
	StatusCode int `json:"status_code,omitempty"`

	// Error contains the failure message. nil indicates no error.
	Error *string `json:"error,omitempty"`

	// CycleID identifies the cycle the event belongs to.
	CycleID string `json:"cycle_id,omitempty"`

	// Cycle counters (cycle events).
	Probed     int   `json:"probed,omitempty"`
	Skipped    int   `json:"skipped,omitempty"`
	Failed     int   `json:"failed,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`

	Time time.Time `json:"time"`
}

// Store defines the interface for storing and subscribing to events.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Update records an event and notifies all subscribers. Status events
	// are kept per URL, replacing the previous one.
	Update(ev Event)

	// Latest returns the most recent status event of every target.
	// The returned slice is a copy; modifications do not affect the store.
	Latest() []Event

	// Subscribe returns a channel that receives every event.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}
