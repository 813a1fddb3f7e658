package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsewatch"
	"github.com/jpalmerr/pulsewatch/config"
	"github.com/jpalmerr/pulsewatch/internal/logging"
	"github.com/jpalmerr/pulsewatch/internal/telemetry"
)

var (
	// shutdownTimeout bounds the wait for the monitor after a signal.
	shutdownTimeout = 10 * time.Second

	// exit terminates the process when the monitor does not stop in time.
	exit = os.Exit
)

var errShutdownTimeout = errors.New("shutdown timed out")

// runCmd starts monitoring.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor the configured targets",
	Long: `Monitor the configured targets until interrupted.

The monitor will:
  - Load configuration, falling back to defaults if the file is missing or invalid
  - Load and validate the target list
  - Check every target on the configured schedule, starting immediately
  - Write status.json after each cycle and email an alert for each failure

The monitor runs until interrupted (Ctrl+C) or receives SIGTERM. It exits
with status 1 when no valid target is configured.

Example:
  pulsewatch run
  pulsewatch run --config /etc/pulsewatch/config.json`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return monitor(ctx, configPath(cmd))
}

// monitor runs one session until ctx is cancelled. extra options are applied
// after the ones built from the configuration.
func monitor(ctx context.Context, path string, extra ...pulsewatch.Option) error {
	// config problems are logged to the console before the log file exists
	bootstrap := logging.New(os.Stderr, slog.LevelInfo)
	cfg := config.LoadOrDefault(path, bootstrap)

	logger, logFile, err := logging.Open(cfg.LogFile, cfg.LogLevel, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush telemetry", "error", err)
		}
	}()

	opts := config.BuildOptions(cfg, logger)
	opts = append(opts, telemetryOptions(providers)...)
	opts = append(opts, extra...)

	m, err := pulsewatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	logger.Info("starting monitor",
		"config", path,
		"targets_file", cfg.TargetsFile,
		"interval_minutes", cfg.IntervalMinutes,
		"schedule", cfg.Schedule,
		"email", cfg.Email.Enabled,
	)

	// start monitor - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return finish(logger, err)

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			return finish(logger, err)
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			// Start still holds the log file and the history database, so
			// the deferred closers must not run before it returns
			exit(1)
			<-errChan
			return errShutdownTimeout
		}
	}
}

// telemetryOptions hands the exporting providers to the monitor. Nothing is
// recorded when export is disabled.
func telemetryOptions(p *telemetry.Providers) []pulsewatch.Option {
	if !p.Enabled() {
		return nil
	}
	return []pulsewatch.Option{
		pulsewatch.WithTracerProvider(p.TracerProvider),
		pulsewatch.WithMeterProvider(p.MeterProvider),
	}
}

func finish(logger *slog.Logger, err error) error {
	switch {
	case err == nil:
		logger.Info("shutdown complete")
		return nil
	case errors.Is(err, pulsewatch.ErrNoTargets):
		logger.Error("no valid targets to monitor, exiting")
		return err
	default:
		return fmt.Errorf("monitor error: %w", err)
	}
}
