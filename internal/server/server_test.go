package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/persist"
	"github.com/jpalmerr/pulsewatch/internal/stats"
	"github.com/jpalmerr/pulsewatch/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statusEvent(url, status string) store.Event {
	return store.Event{Kind: "status", URL: url, Status: status, Time: time.Now()}
}

type fakeSnapshots struct {
	snap stats.Snapshot
	ok   bool
}

func (f fakeSnapshots) Snapshot() (stats.Snapshot, bool) {
	return f.snap, f.ok
}

type fakeHistory struct {
	checks   []persist.Check
	err      error
	gotURL   string
	gotLimit int
}

func (f *fakeHistory) Recent(_ context.Context, url string, limit int) ([]persist.Check, error) {
	f.gotURL, f.gotLimit = url, limit
	return f.checks, f.err
}

type fakeResetter struct {
	known   map[string]bool
	running bool
}

func (f fakeResetter) ResetBackoff(url string) (bool, error) {
	if !f.running {
		return false, errors.New("scheduler is not running")
	}
	delayed, ok := f.known[url]
	if !ok {
		return false, fmt.Errorf("%w: %s", stats.ErrUnknownTarget, url)
	}
	return delayed, nil
}

func newTestServer(ms store.Store) *Server {
	return NewServer(Config{Store: ms, Snapshots: fakeSnapshots{}}, testLogger())
}

// --- SSE ---

func TestHandleSSE_BasicFlow(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(statusEvent("https://api-1.example", "online"))
	ms.Update(statusEvent("https://api-2.example", "offline"))

	srv := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	srv.handleSSE(rec, req)

	body := rec.Body.String()

	// should contain initial statuses
	if !strings.Contains(body, "api-1.example") {
		t.Errorf("response should contain api-1, got: %s", body)
	}
	if !strings.Contains(body, "api-2.example") {
		t.Errorf("response should contain api-2, got: %s", body)
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)

	ms.Update(statusEvent("https://new.example", "online"))
	ms.Update(store.Event{Kind: "cycle", CycleID: "cycle-42", Probed: 1})

	// give time for update to be written
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "new.example") {
		t.Errorf("response should contain streamed status event, got: %s", body)
	}
	if !strings.Contains(body, "cycle-42") {
		t.Errorf("response should contain streamed cycle event, got: %s", body)
	}
}

func TestHandleSSE_ClientDisconnect(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after client disconnect")
	}
}

func TestHandleSSE_StoreClosed(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	ms.Close()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after the store closed its subscribers")
	}
}

func TestHandleSSE_NoGoroutineLeaks(t *testing.T) {
	// allow existing goroutines to settle
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()

	srv := newTestServer(store.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
			req = req.WithContext(ctx)
			rec := httptest.NewRecorder()

			srv.handleSSE(rec, req)
		}()
	}

	wg.Wait()

	runtime.GC()
	time.Sleep(200 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before+2 { // small tolerance for runtime variance
		t.Errorf("potential goroutine leak: before=%d, after=%d", before, after)
	}
}

func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(statusEvent("https://api.example", "online"))

	srv := newTestServer(ms)

	serverCtx, serverCancel := context.WithCancel(context.Background())

	numClients := 10
	var wg sync.WaitGroup
	started := make(chan struct{})
	var startedCount atomic.Int32

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
			req = req.WithContext(serverCtx)
			rec := httptest.NewRecorder()

			// use Add's return value to ensure only one goroutine closes the channel
			if startedCount.Add(1) == int32(numClients) {
				close(started)
			}

			srv.handleSSE(rec, req)
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("clients did not start in time")
	}

	time.Sleep(100 * time.Millisecond)

	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)

	// use a writer that doesn't support flushing
	w := &nonFlushWriter{header: make(http.Header)}

	srv.handleSSE(w, req)

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

type nonFlushWriter struct {
	header     http.Header
	statusCode int
	body       []byte
}

func (n *nonFlushWriter) Header() http.Header {
	return n.header
}

func (n *nonFlushWriter) Write(b []byte) (int, error) {
	n.body = append(n.body, b...)
	return len(b), nil
}

func (n *nonFlushWriter) WriteHeader(statusCode int) {
	n.statusCode = statusCode
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	expectedHeaders := map[string]string{
		"Content-Type":                "text/event-stream",
		"Cache-Control":               "no-cache",
		"Connection":                  "keep-alive",
		"Access-Control-Allow-Origin": "*",
	}

	for key, expected := range expectedHeaders {
		if got := rec.Header().Get(key); got != expected {
			t.Errorf("header %s = %q, want %q", key, got, expected)
		}
	}
}

func TestHandleSSE_JSONFormat(t *testing.T) {
	ms := store.NewMemoryStore()
	msg := "connection refused"
	ms.Update(store.Event{
		Kind:       "status",
		URL:        "https://example.com",
		Status:     "offline",
		LatencyMs:  42,
		StatusCode: 0,
		Error:      &msg,
		CycleID:    "c1",
		Time:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	srv := newTestServer(ms)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 1 {
		t.Fatalf("expected 1 SSE event, got %d: %s", len(events), rec.Body.String())
	}

	ev := events[0]
	if ev.URL != "https://example.com" {
		t.Errorf("URL = %q, want %q", ev.URL, "https://example.com")
	}
	if ev.Status != "offline" {
		t.Errorf("Status = %q, want %q", ev.Status, "offline")
	}
	if ev.Error == nil || *ev.Error != msg {
		t.Errorf("Error = %v, want %q", ev.Error, msg)
	}
	if ev.LatencyMs != 42 {
		t.Errorf("LatencyMs = %d, want 42", ev.LatencyMs)
	}
}

// TestHandleSSE_ServerShutdownIntegration tests that SSE handlers exit cleanly
// when the server is shut down, using a real HTTP connection.
func TestHandleSSE_ServerShutdownIntegration(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(statusEvent("https://integration.example", "online"))

	srv := newTestServer(ms)

	serverCtx, serverCancel := context.WithCancel(context.Background())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// derive request context from server context (simulates BaseContext)
		r = r.WithContext(serverCtx)
		srv.handleSSE(w, r)
	})

	ts := httptest.NewServer(handler)
	defer ts.Close()

	client := ts.Client()
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	connDone := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			connDone <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		buf := make([]byte, 1024)
		for {
			_, err := resp.Body.Read(buf)
			if err != nil {
				connDone <- nil // expected - connection closed
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)

	serverCancel()

	select {
	case <-connDone:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE connection did not close after server shutdown")
	}
}

// TestHandleSSE_WriteDeadlineProtection checks the fallback path where the
// ResponseWriter does not support deadlines: the handler still streams and
// still exits on context cancellation.
func TestHandleSSE_WriteDeadlineProtection(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(statusEvent("https://api.example", "online"))

	srv := newTestServer(ms)

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	req = req.WithContext(serverCtx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	serverCancel()

	select {
	case <-done:
		body := rec.Body.String()
		if !strings.Contains(body, "api.example") {
			t.Errorf("expected api.example in response, got: %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}
}

func parseSSEEvents(body string) []store.Event {
	var events []store.Event
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			var ev store.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err == nil {
				events = append(events, ev)
			}
		}
	}
	return events
}

// --- JSON endpoints ---

func TestHandleStatus(t *testing.T) {
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := stats.Snapshot{
		TakenAt: checked,
		Targets: []stats.TargetView{{
			URL:             "https://a.example",
			Status:          stats.StatusOnline,
			LastChecked:     &checked,
			TotalChecks:     4,
			SuccessCount:    3,
			UptimePercent:   75,
			UptimeAvailable: true,
			BackoffDelayMs:  0,
		}},
	}
	srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{snap: snap, ok: true}}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got stats.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(got.Targets) != 1 || got.Targets[0].URL != "https://a.example" {
		t.Fatalf("targets = %+v", got.Targets)
	}
	if got.Targets[0].UptimePercent != 75 {
		t.Errorf("uptime = %v, want 75", got.Targets[0].UptimePercent)
	}
}

func TestHandleStatus_NoSnapshotYet(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleStatus_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{checks: []persist.Check{
		{URL: "https://a.example", OK: true, StatusCode: 200, LatencyMs: 12, CheckedAt: at},
	}}

	tests := []struct {
		name      string
		history   HistorySource
		query     string
		wantCode  int
		wantLimit int
	}{
		{name: "default limit", history: history, query: "?url=https://a.example", wantCode: http.StatusOK, wantLimit: 100},
		{name: "explicit limit", history: history, query: "?url=https://a.example&limit=5", wantCode: http.StatusOK, wantLimit: 5},
		{name: "limit capped", history: history, query: "?url=https://a.example&limit=50000", wantCode: http.StatusOK, wantLimit: 1000},
		{name: "bad limit", history: history, query: "?url=https://a.example&limit=-1", wantCode: http.StatusBadRequest},
		{name: "missing url", history: history, query: "", wantCode: http.StatusBadRequest},
		{name: "history disabled", history: nil, query: "?url=https://a.example", wantCode: http.StatusNotFound},
		{name: "read failure", history: &fakeHistory{err: errors.New("database is locked")}, query: "?url=https://a.example", wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{}, History: tt.history}, testLogger())

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history"+tt.query, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if history.gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", history.gotLimit, tt.wantLimit)
			}
			if history.gotURL != "https://a.example" {
				t.Errorf("url = %q", history.gotURL)
			}

			var checks []persist.Check
			if err := json.Unmarshal(rec.Body.Bytes(), &checks); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if len(checks) != 1 || checks[0].LatencyMs != 12 {
				t.Errorf("checks = %+v", checks)
			}
		})
	}
}

func TestHandleHistory_EmptyIsArray(t *testing.T) {
	srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{}, History: &fakeHistory{}}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?url=https://a.example", nil))

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHandleBackoffReset(t *testing.T) {
	resetter := fakeResetter{
		running: true,
		known:   map[string]bool{"https://down.example": true, "https://up.example": false},
	}

	tests := []struct {
		name        string
		resetter    BackoffResetter
		method      string
		query       string
		wantCode    int
		wantCleared bool
	}{
		{name: "cleared", resetter: resetter, method: http.MethodPost, query: "?url=https://down.example", wantCode: http.StatusOK, wantCleared: true},
		{name: "nothing to clear", resetter: resetter, method: http.MethodPost, query: "?url=https://up.example", wantCode: http.StatusOK},
		{name: "unknown target", resetter: resetter, method: http.MethodPost, query: "?url=https://nope.example", wantCode: http.StatusNotFound},
		{name: "missing url", resetter: resetter, method: http.MethodPost, query: "", wantCode: http.StatusBadRequest},
		{name: "wrong method", resetter: resetter, method: http.MethodGet, query: "?url=https://down.example", wantCode: http.StatusMethodNotAllowed},
		{name: "not running", resetter: fakeResetter{}, method: http.MethodPost, query: "?url=https://down.example", wantCode: http.StatusServiceUnavailable},
		{name: "disabled", resetter: nil, method: http.MethodPost, query: "?url=https://down.example", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{}, Resetter: tt.resetter}, testLogger())

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/backoff/reset"+tt.query, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var got resetResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if got.Cleared != tt.wantCleared {
				t.Errorf("cleared = %v, want %v", got.Cleared, tt.wantCleared)
			}
		})
	}
}

// --- Server Start ---

func TestStart_AvailablePort_ServesRequests(t *testing.T) {
	srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{ok: true}}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() on available port returned error: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", srv.Addr().String()))
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{}, Port: port}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

func TestStart_InvalidPort_ReturnsError(t *testing.T) {
	srv := NewServer(Config{Store: store.NewMemoryStore(), Snapshots: fakeSnapshots{}, Port: -1}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() with invalid port should return error")
	}
}

func BenchmarkHandleSSE_SingleClient(b *testing.B) {
	ms := store.NewMemoryStore()
	for i := 0; i < 10; i++ {
		ms.Update(statusEvent(fmt.Sprintf("https://api-%d.example", i), "online"))
	}

	srv := newTestServer(ms)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
		req = req.WithContext(ctx)
		rec := httptest.NewRecorder()

		srv.handleSSE(rec, req)
		cancel()
	}
}
