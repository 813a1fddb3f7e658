package pulsewatch

import (
	"context"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/alert"
)

// Alert describes one failed probe.
type Alert struct {
	URL     string
	Message string
	Time    time.Time
}

// Alerter delivers failure notifications. Notify is called once for every
// failed probe; a returned error is logged and never retried.
type Alerter interface {
	Notify(ctx context.Context, a Alert) error
}

// AlerterFunc adapts a plain function to [Alerter].
type AlerterFunc func(ctx context.Context, a Alert) error

// Notify calls f.
func (f AlerterFunc) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// EmailConfig configures SMTP alert delivery for [WithEmailAlerts].
type EmailConfig struct {
	Host string
	Port int

	// Secure dials with implicit TLS. When false the connection is upgraded
	// with STARTTLS if the server offers it.
	Secure bool

	Username string
	Password string
	From     string
	To       []string
}

// alerterAdapter exposes a public [Alerter] as an internal dispatcher.
type alerterAdapter struct {
	a Alerter
}

func (d alerterAdapter) Notify(ctx context.Context, a alert.Alert) error {
	return d.a.Notify(ctx, Alert{URL: a.URL, Message: a.Message, Time: a.Time})
}
