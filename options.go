package pulsewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpalmerr/pulsewatch/internal/alert"
	"github.com/jpalmerr/pulsewatch/internal/backoff"
	"github.com/jpalmerr/pulsewatch/internal/poller"
	"github.com/jpalmerr/pulsewatch/internal/registry"
)

// TargetSource supplies raw target URLs. It is read once per [Monitor.Start];
// invalid and duplicate entries are dropped with a warning.
type TargetSource interface {
	Targets(ctx context.Context) ([]string, error)
}

// StaticTargets is a fixed [TargetSource].
type StaticTargets []string

// Targets returns a copy of the list.
func (s StaticTargets) Targets(_ context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// monitorConfig holds mutable state during Monitor construction.
type monitorConfig struct {
	targets        []string
	targetFile     string
	sources        []registry.Source
	schedule       cron.Schedule
	scheduleDesc   string
	requestTimeout time.Duration
	maxConcurrency int
	initialDelay   time.Duration
	maxDelay       time.Duration
	decay          backoff.Decay
	statusFile     string
	historyDB      string
	alerter        alert.Dispatcher
	port           int
	logger         *slog.Logger
	eventCallbacks []func(Event)
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// Option is a function that configures a [Monitor] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*monitorConfig) error

// WithTargets adds target URLs to monitor.
//
// Entries are validated when the monitor starts, not here: malformed URLs
// are dropped with a warning so one bad entry never prevents monitoring the
// rest.
//
// Example:
//
//	m, err := pulsewatch.New(
//	    pulsewatch.WithTargets("https://api.example.com/health", "https://example.org"),
//	)
func WithTargets(urls ...string) Option {
	return func(cfg *monitorConfig) error {
		cfg.targets = append(cfg.targets, urls...)
		return nil
	}
}

// WithTargetFile reads targets from a JSON document of the form
// {"urls": ["https://…"]}. A missing file contributes no targets.
func WithTargetFile(path string) Option {
	return func(cfg *monitorConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("target file path cannot be empty")
		}
		cfg.targetFile = path
		return nil
	}
}

// WithTargetSource adds a custom [TargetSource]. Nil sources are ignored.
func WithTargetSource(src TargetSource) Option {
	return func(cfg *monitorConfig) error {
		if src == nil {
			return nil
		}
		cfg.sources = append(cfg.sources, src)
		return nil
	}
}

// WithInterval sets the time between cycles. Defaults to 5 minutes.
//
// Returns an error if the interval is shorter than one second.
func WithInterval(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		sched, err := poller.ParseSchedule("", d)
		if err != nil {
			return err
		}
		cfg.schedule = sched
		cfg.scheduleDesc = d.String()
		return nil
	}
}

// WithSchedule drives cycles from a standard five-field cron expression or
// a descriptor such as "@hourly" instead of a fixed interval. The first
// cycle still runs as soon as the monitor starts.
//
// Example:
//
//	m, err := pulsewatch.New(
//	    pulsewatch.WithTargets(urls...),
//	    pulsewatch.WithSchedule("*/2 * * * *"),
//	)
func WithSchedule(expr string) Option {
	return func(cfg *monitorConfig) error {
		if strings.TrimSpace(expr) == "" {
			return errors.New("schedule cannot be empty")
		}
		sched, err := poller.ParseSchedule(expr, 0)
		if err != nil {
			return err
		}
		cfg.schedule = sched
		cfg.scheduleDesc = strings.TrimSpace(expr)
		return nil
	}
}

// WithRequestTimeout bounds every probe. Defaults to 5 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithMaxConcurrency sets the maximum number of probes in flight.
//
// This limits how many targets are probed simultaneously during each
// cycle. Defaults to 10 if not specified.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *monitorConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithBackoff sets the first backoff delay after a failure and the cap the
// delay doubles towards. Defaults to 1s and 60s.
//
// Returns an error unless 0 < initial <= max.
func WithBackoff(initial, max time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if initial <= 0 {
			return errors.New("initial backoff delay must be positive")
		}
		if max < initial {
			return fmt.Errorf("max backoff delay %s is below initial delay %s", max, initial)
		}
		cfg.initialDelay = initial
		cfg.maxDelay = max
		return nil
	}
}

// WithBackoffDecay chooses how a delayed target becomes eligible again.
//
// "none" (the default) skips a failed target until it succeeds or its
// backoff is reset with [Monitor.ResetBackoff]. "elapsed" probes it again
// once the delay has passed since the last failure.
func WithBackoffDecay(mode string) Option {
	return func(cfg *monitorConfig) error {
		d, err := backoff.ParseDecay(mode)
		if err != nil {
			return err
		}
		cfg.decay = d
		return nil
	}
}

// WithStatusFile rewrites a JSON status document at path after every cycle.
func WithStatusFile(path string) Option {
	return func(cfg *monitorConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("status file path cannot be empty")
		}
		cfg.statusFile = path
		return nil
	}
}

// WithHistoryDB records every probe in a SQLite database at path. The
// history is served by the HTTP API when [WithPort] is set.
func WithHistoryDB(path string) Option {
	return func(cfg *monitorConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("history database path cannot be empty")
		}
		cfg.historyDB = path
		return nil
	}
}

// WithAlerter sends one alert per failed probe through a.
//
// Returns an error if a is nil.
func WithAlerter(a Alerter) Option {
	return func(cfg *monitorConfig) error {
		if a == nil {
			return errors.New("alerter cannot be nil")
		}
		cfg.alerter = alerterAdapter{a: a}
		return nil
	}
}

// WithEmailAlerts sends one plain-text email per failed probe.
//
// Returns an error if the SMTP settings are incomplete.
func WithEmailAlerts(e EmailConfig) Option {
	return func(cfg *monitorConfig) error {
		d, err := alert.NewSMTP(alert.SMTPConfig{
			Host:     e.Host,
			Port:     e.Port,
			Secure:   e.Secure,
			Username: e.Username,
			Password: e.Password,
			From:     e.From,
			To:       e.To,
		})
		if err != nil {
			return fmt.Errorf("invalid email settings: %w", err)
		}
		cfg.alerter = d
		return nil
	}
}

// WithPort serves the HTTP API (status, SSE, history, backoff reset) on
// port. The API is disabled by default.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *monitorConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Monitor instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *monitorConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEventCallback registers a function called for every [Event].
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Callbacks are invoked
// synchronously from a single goroutine, so a slow callback delays event
// delivery (never probing). Panics within callbacks are recovered and
// logged with a correlation ID.
//
// Example:
//
//	m, err := pulsewatch.New(
//	    pulsewatch.WithTargets(urls...),
//	    pulsewatch.WithEventCallback(func(ev pulsewatch.Event) {
//	        if ev.Kind == pulsewatch.EventStatus && ev.Status == pulsewatch.StatusOffline {
//	            log.Printf("%s is offline: %v", ev.URL, ev.Err)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil
		}
		cfg.eventCallbacks = append(cfg.eventCallbacks, cb)
		return nil
	}
}

// WithMeterProvider records probe, cycle and alert metrics on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *monitorConfig) error {
		if mp == nil {
			return errors.New("meter provider cannot be nil")
		}
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider records cycle and probe spans on tp. Without it the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *monitorConfig) error {
		if tp == nil {
			return errors.New("tracer provider cannot be nil")
		}
		cfg.tracerProvider = tp
		return nil
	}
}
