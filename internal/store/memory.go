package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Status events are keyed by URL, with new events replacing previous ones.
// Subscribers receive every event via buffered channels (buffer size 100).
// Sends are non-blocking; if a subscriber's buffer is full, the event is
// dropped for that subscriber to prevent blocking the scheduler.
type MemoryStore struct {
	mu          sync.RWMutex
	latest      map[string]Event
	subscribers map[chan Event]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:      make(map[string]Event),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Update stores ev if it is a status event and notifies all subscribers.
func (m *MemoryStore) Update(ev Event) {
	if ev.Kind == "status" && ev.URL != "" {
		m.mu.Lock()
		m.latest[ev.URL] = ev
		m.mu.Unlock()
	}

	m.notifySubscribers(ev)
}

// Latest returns the most recent status event per target, sorted by URL.
func (m *MemoryStore) Latest() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]Event, 0, len(m.latest))
	for _, ev := range m.latest {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].URL < events[j].URL })
	return events
}

// Subscribe creates a new subscription and returns a channel for receiving
// events.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Close unsubscribes everyone, closing every subscriber channel.
func (m *MemoryStore) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers {
		delete(m.subscribers, ch)
		close(ch)
	}
}

// notifySubscribers is non-blocking: a full subscriber misses the event.
func (m *MemoryStore) notifySubscribers(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is slow, drop the message
		}
	}
}
