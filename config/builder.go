package config

import (
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsewatch"
	"github.com/jpalmerr/pulsewatch/internal/alert"
)

// BuildOptions converts parsed configuration into SDK options.
//
// Targets come from TargetsFile first, then the inline Targets. Email alerts,
// the status document, the history database and the HTTP API are only
// enabled when configured. logger may be nil.
func BuildOptions(cfg *Config, logger *slog.Logger) []pulsewatch.Option {
	var opts []pulsewatch.Option

	if cfg.TargetsFile != "" {
		opts = append(opts, pulsewatch.WithTargetFile(cfg.TargetsFile))
	}
	if len(cfg.Targets) > 0 {
		opts = append(opts, pulsewatch.WithTargets(cfg.Targets...))
	}

	if cfg.Schedule != "" {
		opts = append(opts, pulsewatch.WithSchedule(cfg.Schedule))
	} else {
		opts = append(opts, pulsewatch.WithInterval(cfg.Interval()))
	}

	opts = append(opts,
		pulsewatch.WithRequestTimeout(cfg.RequestTimeout()),
		pulsewatch.WithMaxConcurrency(cfg.MaxConcurrency),
		pulsewatch.WithBackoff(
			time.Duration(cfg.Backoff.InitialDelayMs)*time.Millisecond,
			time.Duration(cfg.Backoff.MaxDelayMs)*time.Millisecond,
		),
		pulsewatch.WithBackoffDecay(cfg.Backoff.Decay),
	)

	if cfg.StatusFile != "" {
		opts = append(opts, pulsewatch.WithStatusFile(cfg.StatusFile))
	}
	if cfg.HistoryDB != "" {
		opts = append(opts, pulsewatch.WithHistoryDB(cfg.HistoryDB))
	}

	if cfg.Email.Enabled {
		opts = append(opts, pulsewatch.WithEmailAlerts(pulsewatch.EmailConfig{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Secure:   cfg.Email.SMTP.Secure,
			Username: cfg.Email.Auth.User,
			Password: cfg.Email.Auth.Pass,
			From:     cfg.Email.From,
			To:       alert.SplitRecipients(cfg.Email.To),
		}))
	}

	if cfg.Server.Port > 0 {
		opts = append(opts, pulsewatch.WithPort(cfg.Server.Port))
	}

	if logger != nil {
		opts = append(opts, pulsewatch.WithLogger(logger))
	}

	return opts
}
