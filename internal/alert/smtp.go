package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPConfig holds the connection settings for [SMTP].
type SMTPConfig struct {
	Host string
	Port int

	// Secure dials with implicit TLS (port 465 style). When false the
	// connection is upgraded with STARTTLS if the server offers it.
	// Credentials are sent with AUTH PLAIN when Username is set.
	Secure bool

	Username string
	Password string
	From     string
	To       []string

	// Timeout bounds a whole delivery when the context carries no deadline.
	Timeout time.Duration
}

// SMTP sends alerts as plain-text email.
type SMTP struct {
	cfg SMTPConfig
}

// NewSMTP validates cfg and returns an email dispatcher.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one alert recipient is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &SMTP{cfg: cfg}, nil
}

// Notify delivers one alert. Errors are wrapped in [DispatchError].
func (s *SMTP) Notify(ctx context.Context, a Alert) error {
	if err := s.send(ctx, a); err != nil {
		return &DispatchError{URL: a.URL, Err: err}
	}
	return nil
}

func (s *SMTP) send(ctx context.Context, a Alert) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	msg, err := s.message(a)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// message builds the plain-text email for a. Header values are
// MIME-encoded, so non-ASCII target URLs survive in the subject.
func (s *SMTP) message(a Alert) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", s.cfg.From, err)
	}
	if err := msg.To(s.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(a.Subject())
	msg.SetDateWithValue(a.Time)
	msg.SetBodyString(mail.TypeTextPlain, a.Body())
	return msg, nil
}

// SplitRecipients splits a comma-separated recipient list.
func SplitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
