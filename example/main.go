package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsewatch"
)

func main() {
	// start mock server (see mock_server.go); hung services time out
	go StartMockHealthServer(":9999", 5*time.Second)
	time.Sleep(100 * time.Millisecond)

	m, err := pulsewatch.New(
		pulsewatch.WithTargets(
			"http://localhost:9999/health?svc=users",
			"http://localhost:9999/health?svc=orders",
			"https://api.github.com",
		),
		pulsewatch.WithInterval(10*time.Second),
		pulsewatch.WithRequestTimeout(2*time.Second),
		pulsewatch.WithBackoff(10*time.Second, 80*time.Second),
		pulsewatch.WithBackoffDecay("elapsed"),
		pulsewatch.WithStatusFile("./status.json"),
		pulsewatch.WithPort(8080),
		pulsewatch.WithAlerter(pulsewatch.AlerterFunc(func(_ context.Context, a pulsewatch.Alert) error {
			slog.Warn("ALERT", "url", a.URL, "message", a.Message)
			return nil
		})),
		pulsewatch.WithEventCallback(func(ev pulsewatch.Event) {
			if ev.Kind == pulsewatch.EventCycle {
				fmt.Printf("cycle %s: %d probed, %d skipped, %d failed in %s\n",
					ev.CycleID, ev.Probed, ev.Skipped, ev.Failed, ev.Duration.Round(time.Millisecond))
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  pulsewatch demo")
	fmt.Println()
	fmt.Println("  Status:  curl http://localhost:8080/api/status")
	fmt.Println("  Live:    curl -N http://localhost:8080/api/sse")
	fmt.Println("  File:    ./status.json")
	fmt.Println()
	fmt.Println("  Mock services flap every 20-60s. Press Ctrl+C to stop.")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		slog.Error("monitor error", "error", err)
		os.Exit(1)
	}
}
