// Package pulsewatch monitors the availability of HTTP endpoints.
//
// A [Monitor] probes a list of target URLs on a schedule, tracks per-target
// uptime, latency and failure history, backs off from targets that keep
// failing, and raises an alert for every failed probe. It is designed as an
// SDK-first library; the pulsewatch command wraps it with a configuration
// file, a log file and a target list store.
//
// # Quick Start
//
//	m, _ := pulsewatch.New(pulsewatch.WithTargets("https://api.example.com/health"))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	m.Start(ctx) // blocks until context is cancelled
//
// # Reachability
//
// A probe is a single GET with a timeout. Any HTTP response, including 4xx
// and 5xx, counts as [StatusOnline]; only a failure to get a response counts
// as [StatusOffline]. Uptime is the share of online probes over all probes
// of the session.
//
// # Backoff
//
// After a failure a target's delay becomes 1s, then doubles per consecutive
// failure up to 60s, and resets on success. With the default "none" decay a
// delayed target is skipped until [Monitor.ResetBackoff] clears it; with
// "elapsed" it is probed again once the delay has passed. See
// [WithBackoff] and [WithBackoffDecay].
//
// # Observing
//
// [Monitor.Snapshot] returns an immutable copy of every target's state.
// [Monitor.Subscribe] and [WithEventCallback] deliver one [Event] per probe
// and one per cycle. [WithPort] serves the same data over HTTP:
//
//   - GET /api/status: latest snapshot
//   - GET /api/sse: Server-Sent Events stream
//   - GET /api/history?url=&limit=: recorded probes ([WithHistoryDB])
//   - POST /api/backoff/reset?url=: clear a target's backoff
//
// # Architecture
//
// Monitor consists of several internal packages (under internal/):
//
//   - internal/poller: probe client and the cycle scheduler
//   - internal/stats, internal/backoff: per-target statistics and delays
//   - internal/registry: target validation and the target list document
//   - internal/persist: status document and SQLite history
//   - internal/alert: alert dispatchers, including SMTP
//   - internal/store, internal/server: event fan-out and the HTTP API
//   - internal/telemetry: OpenTelemetry metrics and tracing
//
// The internal packages are not part of the public API and may change
// without notice.
package pulsewatch
