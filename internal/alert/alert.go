// Package alert delivers failure notifications for monitored targets.
//
// The scheduler calls a [Dispatcher] once for every failed probe. Delivery
// errors are reported back to the caller, which logs them; dispatchers never
// retry.
package alert

import (
	"context"
	"fmt"
	"time"
)

// Alert describes one failed probe.
type Alert struct {
	URL     string
	Message string
	Time    time.Time
}

// Subject returns the notification subject line.
func (a Alert) Subject() string {
	return fmt.Sprintf("API Monitor Alert: %s Offline", a.URL)
}

// Body returns the plain-text notification body.
func (a Alert) Body() string {
	return fmt.Sprintf("URL: %s\nError: %s\nTime: %s", a.URL, a.Message, a.Time.UTC().Format(time.RFC3339))
}

// Dispatcher sends alerts.
type Dispatcher interface {
	Notify(ctx context.Context, a Alert) error
}

// Func adapts a plain function to [Dispatcher].
type Func func(ctx context.Context, a Alert) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// Nop discards every alert. It is used when email alerts are disabled.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Alert) error {
	return nil
}

// DispatchError wraps a failed delivery.
type DispatchError struct {
	URL string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("alert dispatch for %s failed: %v", e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
