// Package registry validates and loads the set of monitored targets.
//
// Targets come from one or more [Source] values: the JSON target list
// document ({"urls": [...]}) and/or a static list from configuration.
// Malformed and duplicate entries are dropped with a warning; a load that
// ends with no valid target fails with [ErrNoTargets].
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ErrNoTargets is returned when no valid target remains after loading.
var ErrNoTargets = errors.New("no valid targets to monitor")

// InvalidTargetError describes a target entry that was rejected.
type InvalidTargetError struct {
	URL    string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.URL, e.Reason)
}

// Source supplies raw target entries.
type Source interface {
	Targets(ctx context.Context) ([]string, error)
}

// StaticSource is a fixed list of targets.
type StaticSource []string

// Targets returns a copy of the list.
func (s StaticSource) Targets(_ context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// Validate reports whether raw is a well-formed absolute http(s) URL.
func Validate(raw string) bool {
	return check(raw) == nil
}

func check(raw string) error {
	if strings.TrimSpace(raw) != raw || raw == "" {
		return &InvalidTargetError{URL: raw, Reason: "empty or padded with whitespace"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &InvalidTargetError{URL: raw, Reason: err.Error()}
	}
	if !u.IsAbs() {
		return &InvalidTargetError{URL: raw, Reason: "url must be absolute"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidTargetError{URL: raw, Reason: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return &InvalidTargetError{URL: raw, Reason: "url has no host"}
	}
	return nil
}

// Load reads every source in order and returns the valid, unique targets.
//
// A source that fails to read aborts the load. Invalid or duplicate entries
// are logged at warn level and skipped.
func Load(ctx context.Context, logger *slog.Logger, sources ...Source) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]struct{})
	var targets []string

	for _, src := range sources {
		entries, err := src.Targets(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load targets: %w", err)
		}

		for _, raw := range entries {
			if err := check(raw); err != nil {
				logger.Warn("invalid target skipped", "url", raw, "error", err.Error())
				continue
			}
			if _, dup := seen[raw]; dup {
				logger.Warn("duplicate target skipped", "url", raw)
				continue
			}
			seen[raw] = struct{}{}
			targets = append(targets, raw)
		}
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}
