package pulsewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/pulsewatch/internal/backoff"
	"github.com/jpalmerr/pulsewatch/internal/persist"
	"github.com/jpalmerr/pulsewatch/internal/poller"
	"github.com/jpalmerr/pulsewatch/internal/registry"
	"github.com/jpalmerr/pulsewatch/internal/server"
	"github.com/jpalmerr/pulsewatch/internal/store"
	"github.com/jpalmerr/pulsewatch/internal/telemetry"
)

const (
	defaultInterval       = 5 * time.Minute
	defaultRequestTimeout = poller.DefaultTimeout
	defaultMaxConcurrency = poller.DefaultMaxConcurrency
	defaultInitialDelay   = time.Second
	defaultMaxDelay       = 60 * time.Second

	subscriberBufferSize = 100
)

// ErrAlreadyRunning is returned by [Monitor.Start] while another Start call
// on the same monitor has not returned.
var ErrAlreadyRunning = errors.New("monitor already running")

// Monitor periodically probes a set of HTTP targets and tracks their
// availability.
//
// Each cycle probes every target that backoff allows, concurrently and up
// to a bounded number in flight. Outcomes are folded into per-target
// statistics, an immutable [Snapshot] is published, persisted when
// configured, and delivered as [Event] values. Every failed probe raises one
// alert. A Monitor is created using [New] with functional options and
// started with [Monitor.Start].
//
// The typical lifecycle is:
//
//	m, err := pulsewatch.New(pulsewatch.WithTargets("https://api.example.com/health"))
//	if err != nil {
//	    slog.Error("failed to create monitor", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	m.Start(ctx) // blocks until context cancelled
//
// Statistics are fresh on every Start. The caller controls the lifecycle
// via the context.
type Monitor struct {
	cfg    monitorConfig
	logger *slog.Logger

	running   atomic.Bool
	scheduler atomic.Pointer[poller.Scheduler]

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// New creates a new [Monitor] instance with the given options.
//
// Targets are configured via [WithTargets], [WithTargetFile] or
// [WithTargetSource] and validated on Start. Other options have sensible
// defaults:
//   - Interval: 5 minutes
//   - Request timeout: 5 seconds
//   - Max concurrency: 10
//   - Backoff: 1s doubling to 60s, without decay
//   - HTTP API, persistence and alerts: disabled
//
// Returns an error if no target source is configured or if any option is
// invalid.
func New(opts ...Option) (*Monitor, error) {
	cfg := &monitorConfig{
		requestTimeout: defaultRequestTimeout,
		maxConcurrency: defaultMaxConcurrency,
		initialDelay:   defaultInitialDelay,
		maxDelay:       defaultMaxDelay,
		decay:          backoff.DecayNone,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.schedule == nil {
		sched, err := poller.ParseSchedule("", defaultInterval)
		if err != nil {
			return nil, err
		}
		cfg.schedule = sched
		cfg.scheduleDesc = defaultInterval.String()
	}

	if len(cfg.targets) == 0 && cfg.targetFile == "" && len(cfg.sources) == 0 {
		return nil, errors.New("at least one target or target source is required")
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:    *cfg,
		logger: logger,
		subs:   make(map[chan Event]struct{}),
	}, nil
}

// Start loads the targets and runs cycles until ctx is cancelled.
//
// Start is a blocking call. During execution:
//
//   - The first cycle runs immediately, later ones follow the schedule
//   - The HTTP API is served when [WithPort] is set
//   - The status document and history are written after every cycle
//   - Events reach subscribers and callbacks after each cycle
//
// Returns nil on graceful shutdown. Returns an error wrapping [ErrNoTargets]
// when no valid target could be loaded, and an error if persistence or the
// HTTP server fails to start.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.logger.Info("pulsewatch starting", "schedule", m.cfg.scheduleDesc)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	schedCfg := poller.Config{
		Sources:        m.sources(),
		Schedule:       m.cfg.schedule,
		Timeout:        m.cfg.requestTimeout,
		MaxConcurrency: m.cfg.maxConcurrency,
		InitialDelay:   m.cfg.initialDelay,
		MaxDelay:       m.cfg.maxDelay,
		Decay:          m.cfg.decay,
		Alerter:        m.cfg.alerter,
	}

	if m.cfg.meterProvider != nil {
		metrics, err := telemetry.NewMetrics(m.cfg.meterProvider.Meter(telemetry.TracerName))
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		schedCfg.Metrics = metrics
	}
	if m.cfg.tracerProvider != nil {
		schedCfg.Tracer = m.cfg.tracerProvider.Tracer(telemetry.TracerName)
	}

	if m.cfg.statusFile != "" {
		schedCfg.Sinks = append(schedCfg.Sinks, persist.NewStatusFile(m.cfg.statusFile))
	}

	var history *persist.HistoryDB
	if m.cfg.historyDB != "" {
		h, err := persist.OpenHistory(ctx, m.cfg.historyDB)
		if err != nil {
			return err
		}
		history = h
		defer func() {
			if err := history.Close(); err != nil {
				m.logger.Error("failed to close history database", "error", err)
			}
		}()
		schedCfg.Sinks = append(schedCfg.Sinks, history)
	}

	statusStore := store.NewMemoryStore()
	scheduler := poller.NewScheduler(schedCfg, m.logger)

	// track the events consumer goroutine to ensure clean shutdown
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range scheduler.Results() {
			// store update first (callbacks fire after the store is current)
			statusStore.Update(toStoreEvent(ev))

			pub := toPublicEvent(ev)
			for _, cb := range m.cfg.eventCallbacks {
				invokeCallbackSafe(cb, pub, m.logger)
			}
			m.broadcast(pub)
		}
	}()

	// cleanup function ensures scheduler is stopped and all events are delivered
	cleanup := func() {
		scheduler.Stop() // closes results channel
		wg.Wait()        // wait for all events to be processed
		statusStore.Close()
	}

	if err := scheduler.Start(ctx); err != nil {
		cleanup()
		return err
	}
	m.scheduler.Store(scheduler)

	if m.cfg.port > 0 {
		srvCfg := server.Config{
			Store:     statusStore,
			Snapshots: scheduler,
			Resetter:  scheduler,
			Port:      m.cfg.port,
		}
		if history != nil {
			srvCfg.History = history
		}
		httpServer := server.NewServer(srvCfg, m.logger)
		if err := httpServer.Start(ctx); err != nil {
			cleanup()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	<-ctx.Done()
	cleanup()
	m.logger.Info("pulsewatch stopped")
	return nil
}

// sources lists the target sources in load order: the target file, inline
// targets, then custom sources.
func (m *Monitor) sources() []registry.Source {
	var srcs []registry.Source
	if m.cfg.targetFile != "" {
		srcs = append(srcs, registry.NewFileSource(m.cfg.targetFile))
	}
	if len(m.cfg.targets) > 0 {
		srcs = append(srcs, registry.StaticSource(m.cfg.targets))
	}
	return append(srcs, m.cfg.sources...)
}

// Snapshot returns the latest published snapshot. The second result is
// false before the first Start has loaded its targets. After Start returns
// the last snapshot of that session remains available.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	s := m.scheduler.Load()
	if s == nil {
		return Snapshot{}, false
	}
	snap, ok := s.Snapshot()
	if !ok {
		return Snapshot{}, false
	}
	return toPublicSnapshot(snap), true
}

// ResetBackoff clears the backoff delay of url so it is probed on the next
// cycle. It reports whether a delay was cleared.
//
// Returns [ErrNotRunning] outside a session and an error wrapping
// [ErrUnknownTarget] for a URL that is not monitored.
func (m *Monitor) ResetBackoff(url string) (bool, error) {
	s := m.scheduler.Load()
	if s == nil {
		return false, ErrNotRunning
	}
	return s.ResetBackoff(url)
}

// Subscribe returns a channel receiving every [Event] of every session.
//
// The channel is buffered; a subscriber that falls behind misses events
// rather than delaying the monitor. Caller must call [Monitor.Unsubscribe]
// when done.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBufferSize)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once.
func (m *Monitor) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for c := range m.subs {
		if c == ch {
			delete(m.subs, c)
			close(c)
			return
		}
	}
}

func (m *Monitor) broadcast(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// subscriber buffer full, skip (non-blocking)
		}
	}
}

// toStoreEvent converts a scheduler event to its JSON shape.
func toStoreEvent(ev poller.Event) store.Event {
	var errStr *string
	if ev.Err != nil {
		s := ev.Err.Error()
		errStr = &s
	}

	return store.Event{
		Kind:       string(ev.Kind),
		URL:        ev.URL,
		Status:     string(ev.Status),
		LatencyMs:  ev.Latency.Milliseconds(),
		StatusCode: ev.StatusCode,
		Error:      errStr,
		CycleID:    ev.CycleID,
		Probed:     ev.Probed,
		Skipped:    ev.Skipped,
		Failed:     ev.Failed,
		DurationMs: ev.Duration.Milliseconds(),
		Time:       ev.Time,
	}
}

// invokeCallbackSafe calls an event callback with panic recovery.
// Panics are logged with a correlation ID but do not propagate.
func invokeCallbackSafe(cb func(Event), ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", r,
				"kind", ev.Kind,
				"url", ev.URL,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(ev)
}
