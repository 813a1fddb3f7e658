// Package config provides configuration file parsing for pulsewatch.
//
// This package enables running pulsewatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// The document is YAML; since YAML is a superset of JSON, a JSON file works
// as well. Keys left out keep their defaults, including nested ones.
//
// Example configuration:
//
//	intervalMinutes: 5
//	requestTimeoutMs: 5000
//	targetsFile: ./urls.json
//	targets:
//	  - https://api.example.com/health
//
//	email:
//	  enabled: true
//	  smtp: {host: smtp.example.com, port: 587}
//	  auth: {user: "${SMTP_USER}", pass: "${SMTP_PASS}"}
//	  to: ops@example.com, oncall@example.com
//
//	backoff:
//	  initialDelayMs: 1000
//	  maxDelayMs: 60000
//	  decay: none
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/pulsewatch/internal/backoff"
	"github.com/jpalmerr/pulsewatch/internal/logging"
	"github.com/jpalmerr/pulsewatch/internal/poller"
)

// DefaultPath is where the CLI looks for the configuration document.
const DefaultPath = "./config.json"

// Config is the root configuration structure for pulsewatch.
//
// It maps directly to the configuration file structure. Use [Load] or
// [Parse] to create a Config, or [Default] for the built-in defaults.
type Config struct {
	// IntervalMinutes is the time between cycles. Ignored when Schedule is set.
	IntervalMinutes int `yaml:"intervalMinutes"`

	// Schedule is a five-field cron expression or descriptor ("@hourly").
	Schedule string `yaml:"schedule"`

	RequestTimeoutMs int `yaml:"requestTimeoutMs"`
	MaxConcurrency   int `yaml:"maxConcurrency"`

	// LogFile is appended to; an empty value logs to stderr only.
	LogFile  string `yaml:"logFile"`
	LogLevel string `yaml:"logLevel"`

	// StatusFile is rewritten after every cycle; empty disables it.
	StatusFile string `yaml:"statusFile"`

	// HistoryDB is a SQLite database recording every probe; empty disables it.
	HistoryDB string `yaml:"historyDB"`

	// TargetsFile is the {"urls": [...]} target list document.
	TargetsFile string `yaml:"targetsFile"`

	// Targets are monitored in addition to the TargetsFile entries.
	// Values support environment variable substitution: ${VAR} or ${VAR:-default}
	Targets []string `yaml:"targets"`

	Email     EmailConfig     `yaml:"email"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EmailConfig configures alert emails.
type EmailConfig struct {
	Enabled bool       `yaml:"enabled"`
	SMTP    SMTPConfig `yaml:"smtp"`
	Auth    AuthConfig `yaml:"auth"`
	From    string     `yaml:"from"`

	// To is a comma-separated recipient list.
	To string `yaml:"to"`
}

// SMTPConfig is the mail server address.
type SMTPConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"`
}

// AuthConfig holds SMTP credentials. Both fields support environment
// variable substitution.
type AuthConfig struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// BackoffConfig tunes the per-target backoff.
type BackoffConfig struct {
	InitialDelayMs int `yaml:"initialDelayMs"`
	MaxDelayMs     int `yaml:"maxDelayMs"`

	// Decay is "none" or "elapsed".
	Decay string `yaml:"decay"`
}

// ServerConfig enables the HTTP API.
type ServerConfig struct {
	// Port is 0 to disable the API.
	Port int `yaml:"port"`
}

// TelemetryConfig enables OTLP span export.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector URL; empty disables tracing.
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// ConfigLoadError reports a configuration document that could not be read,
// parsed or validated.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("failed to load config %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		IntervalMinutes:  5,
		RequestTimeoutMs: 5000,
		MaxConcurrency:   10,
		LogFile:          "./monitor.log",
		LogLevel:         "info",
		StatusFile:       "./status.json",
		TargetsFile:      "./urls.json",
		Email: EmailConfig{
			SMTP: SMTPConfig{Host: "smtp.example.com", Port: 587},
			Auth: AuthConfig{User: "user@example.com", Pass: "password"},
			From: "monitor@example.com",
			To:   "alerts@example.com",
		},
		Backoff: BackoffConfig{
			InitialDelayMs: 1000,
			MaxDelayMs:     60000,
			Decay:          string(backoff.DecayNone),
		},
		Telemetry: TelemetryConfig{ServiceName: "pulsewatch"},
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a configuration file.
//
// Returns a [*ConfigLoadError] if the file cannot be read, parsed or
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, &ConfigLoadError{Path: path, Err: err}
	}
	return cfg, nil
}

// LoadOrDefault loads path and falls back to [Default] with a warning when
// the document is missing or invalid. A broken configuration never stops
// monitoring.
func LoadOrDefault(path string, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		logger.Warn("using default configuration", "path", path, "error", err)
		return Default()
	}
	logger.Info("configuration loaded", "path", path)
	return cfg
}

// Parse parses configuration data over [Default].
//
// Environment variables are expanded in target URLs, file paths, email
// settings and the telemetry endpoint before validation.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"logFile", &c.LogFile},
		{"statusFile", &c.StatusFile},
		{"historyDB", &c.HistoryDB},
		{"targetsFile", &c.TargetsFile},
		{"email.smtp.host", &c.Email.SMTP.Host},
		{"email.auth.user", &c.Email.Auth.User},
		{"email.auth.pass", &c.Email.Auth.Pass},
		{"email.from", &c.Email.From},
		{"email.to", &c.Email.To},
		{"telemetry.otlpEndpoint", &c.Telemetry.OTLPEndpoint},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = expanded
	}

	for i, raw := range c.Targets {
		expanded, err := expandEnvVars(raw)
		if err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
		c.Targets[i] = strings.TrimSpace(expanded)
	}

	if _, err := c.CronSchedule(); err != nil {
		if c.Schedule != "" {
			return fmt.Errorf("schedule: %w", err)
		}
		return fmt.Errorf("intervalMinutes must be at least 1, got %d", c.IntervalMinutes)
	}

	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("requestTimeoutMs must be positive, got %d", c.RequestTimeoutMs)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("maxConcurrency must be positive, got %d", c.MaxConcurrency)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}

	if c.Backoff.InitialDelayMs <= 0 {
		return fmt.Errorf("backoff.initialDelayMs must be positive, got %d", c.Backoff.InitialDelayMs)
	}
	if c.Backoff.MaxDelayMs < c.Backoff.InitialDelayMs {
		return fmt.Errorf("backoff.maxDelayMs (%d) must not be below backoff.initialDelayMs (%d)",
			c.Backoff.MaxDelayMs, c.Backoff.InitialDelayMs)
	}
	if _, err := backoff.ParseDecay(c.Backoff.Decay); err != nil {
		return fmt.Errorf("backoff.decay: %w", err)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	if c.Email.Enabled {
		if c.Email.SMTP.Host == "" {
			return errors.New("email.smtp.host is required when email is enabled")
		}
		if c.Email.SMTP.Port < 1 || c.Email.SMTP.Port > 65535 {
			return fmt.Errorf("email.smtp.port must be between 1 and 65535, got %d", c.Email.SMTP.Port)
		}
		if c.Email.From == "" {
			return errors.New("email.from is required when email is enabled")
		}
		if strings.TrimSpace(c.Email.To) == "" {
			return errors.New("email.to is required when email is enabled")
		}
	}

	return nil
}

// CronSchedule returns the schedule driving cycles: the cron expression
// when set, otherwise a fixed IntervalMinutes period.
func (c *Config) CronSchedule() (cron.Schedule, error) {
	if c.Schedule != "" {
		return poller.ParseSchedule(c.Schedule, 0)
	}
	return poller.ParseSchedule("", c.Interval())
}

// Interval returns IntervalMinutes as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RequestTimeout returns RequestTimeoutMs as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
