package poller

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
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpalmerr/pulsewatch/internal/alert"
	"github.com/jpalmerr/pulsewatch/internal/backoff"
	"github.com/jpalmerr/pulsewatch/internal/persist"
	"github.com/jpalmerr/pulsewatch/internal/registry"
	"github.com/jpalmerr/pulsewatch/internal/stats"
	"github.com/jpalmerr/pulsewatch/internal/telemetry"
)

const (
	// DefaultTimeout is the per-probe timeout when none is configured.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxConcurrency bounds in-flight probes per cycle.
	DefaultMaxConcurrency = 10

	resultsBufferSize = 256
	persistTimeout    = 10 * time.Second
)

var (
	// ErrCycleInProgress is returned by [Scheduler.RunCycle] when another
	// cycle has not finished joining yet.
	ErrCycleInProgress = errors.New("cycle already in progress")

	// ErrNotRunning is returned when an operation needs a running session.
	ErrNotRunning = errors.New("scheduler is not running")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// State is the lifecycle state of a [Scheduler].
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind identifies the kind of an [Event].
type EventKind string

const (
	EventStatus EventKind = "status"
	EventCycle  EventKind = "cycle"
	EventError  EventKind = "error"
)

// Event is emitted on the results channel.
//
// Status events carry one probe outcome. Cycle events summarise a finished
// cycle. Error events report session-level failures.
type Event struct {
	Kind EventKind

	// status
	URL        string
	Status     stats.Status
	Latency    time.Duration
	StatusCode int
	Err        error

	// cycle
	CycleID  string
	Probed   int
	Skipped  int
	Failed   int
	Duration time.Duration

	Time time.Time
}

// CycleReport summarises one cycle.
type CycleReport struct {
	ID       string
	Probed   int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Config carries everything a [Scheduler] needs for a session.
type Config struct {
	// Sources supply the target list, read once per Start.
	Sources []registry.Source

	// Schedule decides when cycles after the first one run.
	Schedule cron.Schedule

	Timeout        time.Duration
	MaxConcurrency int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Decay        backoff.Decay

	// Sinks persist every cycle, in order.
	Sinks []persist.Persister

	// Alerter is called once per failed probe. Nil disables alerts.
	Alerter alert.Dispatcher

	Metrics *telemetry.Metrics
	Tracer  trace.Tracer

	// Prober defaults to a new [Client].
	Prober Prober

	// Now defaults to time.Now.
	Now func() time.Time
}

type session struct {
	id      string
	targets []string
	agg     *stats.Aggregator
	backoff *backoff.Controller
}

// Scheduler runs probe cycles on a schedule.
//
// The first cycle runs as soon as the session starts. Each cycle probes the
// targets that backoff allows with a bounded worker pool, folds the outcomes
// into the aggregator, publishes a new snapshot, persists it, emits events and
// dispatches one alert per failure. Cycles never overlap.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	cfg     Config
	prober  Prober
	client  *Client
	tracer  trace.Tracer
	now     func() time.Time
	results chan Event
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	sess      *session
	closeOnce sync.Once

	cycleMu  sync.Mutex
	closed   bool // guarded by cycleMu
	snapshot atomic.Pointer[stats.Snapshot]
}

// NewScheduler creates a [Scheduler] in the idle state.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. Events are available via [Scheduler.Results].
func NewScheduler(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Schedule == nil {
		cfg.Schedule = cron.Every(5 * time.Minute)
	}

	s := &Scheduler{
		cfg:     cfg,
		prober:  cfg.Prober,
		tracer:  cfg.Tracer,
		now:     cfg.Now,
		results: make(chan Event, resultsBufferSize),
		logger:  logger,
	}
	if s.prober == nil {
		s.client = NewClient()
		s.prober = s.client
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(telemetry.TracerName)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Results returns a receive-only channel of [Event] values.
//
// The channel is closed by [Scheduler.Stop]. Sends never block: when the
// buffer is full the event is dropped and logged.
func (s *Scheduler) Results() <-chan Event {
	return s.results
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the latest published snapshot. The second result is
// false before the first session has loaded its targets.
func (s *Scheduler) Snapshot() (stats.Snapshot, bool) {
	p := s.snapshot.Load()
	if p == nil {
		return stats.Snapshot{}, false
	}
	return *p, true
}

// Start loads the targets, initialises fresh state and begins the cycle loop
// in a background goroutine. The first cycle runs immediately.
//
// When no valid target can be loaded an error event is emitted and the
// error (wrapping [registry.ErrNoTargets]) is returned; the scheduler stays
// idle. Start while running is a no-op. Start after Stop returns [ErrStopped].
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	if s.ctx != nil {
		// a load is already in flight from a concurrent Start
		s.mu.Unlock()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	sessCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	targets, err := registry.Load(sessCtx, s.logger, s.cfg.Sources...)
	if err != nil {
		s.logger.Error("failed to start session", "error", err)
		s.emitLocked(Event{Kind: EventError, Err: err, Time: s.now()})

		s.mu.Lock()
		s.cancel()
		s.ctx, s.cancel = nil, nil
		s.mu.Unlock()
		s.wg.Done()
		return err
	}

	sess := &session{
		id:      uuid.NewString(),
		targets: targets,
		agg:     stats.NewAggregator(targets),
		backoff: backoff.New(s.cfg.InitialDelay, s.cfg.MaxDelay, s.cfg.Decay),
	}
	initial := sess.agg.Snapshot(s.now(), nil)
	s.snapshot.Store(&initial)

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		s.wg.Done()
		return ErrStopped
	}
	s.sess = sess
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("session started",
		"session_id", sess.id,
		"targets", len(targets),
		"timeout", s.cfg.Timeout.String(),
		"max_concurrency", s.cfg.MaxConcurrency,
	)

	go func() {
		defer s.wg.Done()
		s.loop(sessCtx)
	}()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	s.runScheduled(ctx)

	for {
		next := s.cfg.Schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		s.logger.Warn("cycle skipped", "error", err)
	}
}

// Stop halts the scheduler and waits for the running cycle to complete.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op apart from moving to the stopped state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = StateStopped
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	// wait out cycles started through RunCycle
	s.cycleMu.Lock()
	s.closeOnce.Do(func() {
		s.closed = true
		close(s.results)
	})
	s.cycleMu.Unlock()

	if s.client != nil {
		s.client.Close()
	}
}

// ResetBackoff clears the backoff delay of url so it is probed on the next
// cycle. It waits for a running cycle to finish and republishes the
// snapshot. The result is false when url had no delay.
func (s *Scheduler) ResetBackoff(url string) (bool, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	sess := s.current()
	if sess == nil {
		return false, ErrNotRunning
	}
	if _, ok := sess.agg.State(url); !ok {
		return false, fmt.Errorf("%w: %s", stats.ErrUnknownTarget, url)
	}

	cleared := sess.backoff.Reset(url)
	if cleared {
		snap := sess.agg.Snapshot(s.now(), sess.backoff.Delays())
		s.snapshot.Store(&snap)
		s.logger.Info("backoff reset", "url", url)
	}
	return cleared, nil
}

func (s *Scheduler) current() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil
	}
	return s.sess
}

type probeResult struct {
	url     string
	outcome Outcome
}

// RunCycle runs one cycle now. A cycle that would overlap a running one is
// skipped with [ErrCycleInProgress].
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	if !s.cycleMu.TryLock() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	sess := s.current()
	if sess == nil {
		return CycleReport{}, ErrNotRunning
	}

	start := time.Now()
	report := CycleReport{ID: uuid.NewString()}
	logger := s.logger.With("session_id", sess.id, "cycle_id", report.ID)

	ctx, span := s.tracer.Start(ctx, "pulsewatch.cycle",
		trace.WithAttributes(attribute.String("cycle.id", report.ID)),
	)
	defer span.End()

	now := s.now()
	eligible := make([]string, 0, len(sess.targets))
	for _, url := range sess.targets {
		if sess.backoff.Eligible(url, now) {
			eligible = append(eligible, url)
			continue
		}
		report.Skipped++
		s.cfg.Metrics.RecordSkip(ctx, url)
		logger.Debug("target in backoff, skipping",
			"url", url,
			"delay", sess.backoff.Delay(url).String(),
		)
	}

	results := s.probeAll(ctx, eligible)

	var failures []probeResult
	probed := make([]probeResult, 0, len(results))
	for _, r := range results {
		// shutdown interrupted this probe; it says nothing about the target
		if ctx.Err() != nil && errors.Is(r.outcome.Err, context.Canceled) {
			logger.Debug("discarding probe cancelled by shutdown", "url", r.url)
			continue
		}

		o := r.outcome
		rec := stats.Outcome{
			OK:         o.OK,
			LatencyMs:  o.Latency.Milliseconds(),
			StatusCode: o.StatusCode,
			CheckedAt:  o.CheckedAt,
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		if err := sess.agg.Record(r.url, rec); err != nil {
			logger.Error("failed to record outcome", "url", r.url, "error", err)
			continue
		}
		probed = append(probed, r)
		s.cfg.Metrics.RecordProbe(ctx, r.url, o.OK, o.Latency)

		if o.OK {
			sess.backoff.OnSuccess(r.url)
			logger.Info("target online",
				"url", r.url,
				"status_code", o.StatusCode,
				"latency_ms", o.Latency.Milliseconds(),
			)
			continue
		}

		delay := sess.backoff.OnFailure(r.url, s.now())
		failures = append(failures, r)
		logger.Warn("target offline",
			"url", r.url,
			"error", rec.Error,
			"latency_ms", o.Latency.Milliseconds(),
			"backoff", delay.String(),
		)
	}
	report.Probed = len(probed)
	report.Failed = len(failures)

	snap := sess.agg.Snapshot(s.now(), sess.backoff.Delays())
	s.snapshot.Store(&snap)

	s.persist(ctx, logger, persist.Record{
		CycleID:  report.ID,
		At:       snap.TakenAt,
		Snapshot: snap,
		Checks:   checks(probed),
	})

	for _, r := range probed {
		status := stats.StatusOnline
		if !r.outcome.OK {
			status = stats.StatusOffline
		}
		s.emit(Event{
			Kind:       EventStatus,
			URL:        r.url,
			Status:     status,
			Latency:    r.outcome.Latency,
			StatusCode: r.outcome.StatusCode,
			Err:        r.outcome.Err,
			CycleID:    report.ID,
			Time:       r.outcome.CheckedAt,
		})
	}

	report.Duration = time.Since(start)
	s.emit(Event{
		Kind:     EventCycle,
		CycleID:  report.ID,
		Probed:   report.Probed,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
		Duration: report.Duration,
		Time:     s.now(),
	})

	s.dispatchAlerts(ctx, logger, failures)

	report.Duration = time.Since(start)
	s.cfg.Metrics.RecordCycle(ctx, report.Duration)
	span.SetAttributes(
		attribute.Int("cycle.probed", report.Probed),
		attribute.Int("cycle.skipped", report.Skipped),
		attribute.Int("cycle.failed", report.Failed),
	)
	logger.Info("cycle complete",
		"probed", report.Probed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration.String(),
	)
	return report, nil
}

// probeAll probes urls concurrently, respecting MaxConcurrency. Results are
// returned in the order of urls.
func (s *Scheduler) probeAll(ctx context.Context, urls []string) []probeResult {
	results := make([]probeResult, len(urls))
	if len(urls) == 0 {
		return results
	}

	workers := s.cfg.MaxConcurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	jobs := make(chan int, len(urls))
	for i := range urls {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = probeResult{url: urls[i], outcome: s.probe(ctx, urls[i])}
			}
		}()
	}
	wg.Wait()

	return results
}

// probe runs one probe inside its own span, converting a prober panic into
// a failed outcome.
func (s *Scheduler) probe(ctx context.Context, url string) (out Outcome) {
	ctx, span := s.tracer.Start(ctx, "pulsewatch.probe",
		trace.WithAttributes(attribute.String("url", url)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", out.StatusCode))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("prober panic",
				"correlation_id", correlationID,
				"url", url,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			out = Outcome{
				Err:       fmt.Errorf("prober panic (correlation_id: %s)", correlationID),
				CheckedAt: s.now(),
			}
		}
	}()

	out = s.prober.Probe(ctx, url, s.cfg.Timeout)
	if out.CheckedAt.IsZero() {
		out.CheckedAt = s.now()
	}
	if !out.OK && out.Err == nil {
		out.Err = errors.New("probe failed")
	}
	return out
}

func (s *Scheduler) persist(ctx context.Context, logger *slog.Logger, rec persist.Record) {
	if len(s.cfg.Sinks) == 0 {
		return
	}

	// the final state of a cycle is written even when shutdown has begun
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, sink := range s.cfg.Sinks {
		if err := sink.Persist(ctx, rec); err != nil {
			logger.Error("persistence failed", "error", err)
		}
	}
}

func (s *Scheduler) dispatchAlerts(ctx context.Context, logger *slog.Logger, failures []probeResult) {
	if s.cfg.Alerter == nil || len(failures) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, f := range failures {
		a := alert.Alert{
			URL:     f.url,
			Message: f.outcome.Err.Error(),
			Time:    f.outcome.CheckedAt,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.safeNotify(ctx, a); err != nil {
				s.cfg.Metrics.RecordAlertFailure(ctx, a.URL)
				logger.Error("alert dispatch failed", "url", a.URL, "error", err)
			}
		}()
	}
	wg.Wait()
}

// safeNotify calls the alerter with panic recovery.
func (s *Scheduler) safeNotify(ctx context.Context, a alert.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("alerter panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = &alert.DispatchError{
				URL: a.URL,
				Err: fmt.Errorf("alerter panic (correlation_id: %s)", correlationID),
			}
		}
	}()
	return s.cfg.Alerter.Notify(ctx, a)
}

// emit sends ev without blocking. Callers hold cycleMu, which Stop takes
// before closing the channel.
func (s *Scheduler) emit(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.results <- ev:
	default:
		s.logger.Warn("results channel full, dropping event", "kind", string(ev.Kind), "url", ev.URL)
	}
}

func (s *Scheduler) emitLocked(ev Event) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.emit(ev)
}

func checks(results []probeResult) []persist.Check {
	out := make([]persist.Check, len(results))
	for i, r := range results {
		out[i] = persist.Check{
			URL:        r.url,
			OK:         r.outcome.OK,
			StatusCode: r.outcome.StatusCode,
			LatencyMs:  r.outcome.Latency.Milliseconds(),
			CheckedAt:  r.outcome.CheckedAt,
		}
		if r.outcome.Err != nil {
			out[i].Error = r.outcome.Err.Error()
		}
	}
	return out
}
