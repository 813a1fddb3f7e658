package main

import (
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockState tracks whether a service answers and when that flips next.
type mockState struct {
	hanging      bool
	nextChangeAt time.Time
}

// StartMockHealthServer runs a health endpoint whose services flap between
// answering and hanging past the request timeout. Each service flips every
// 20-60 seconds. Call this in a goroutine before starting the monitor.
func StartMockHealthServer(addr string, hang time.Duration) {
	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")

		mu.Lock()
		state, exists := states[svc]
		if !exists {
			state = &mockState{
				nextChangeAt: time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second),
			}
			states[svc] = state
		}
		if time.Now().After(state.nextChangeAt) {
			state.hanging = !state.hanging
			state.nextChangeAt = time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("mock state change", "svc", svc, "hanging", state.hanging)
		}
		hanging := state.hanging
		mu.Unlock()

		if hanging {
			select {
			case <-time.After(hang):
			case <-r.Context().Done():
				return
			}
		}

		// simulate small latency variance
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
