package pulsewatch

import (
	"github.com/jpalmerr/pulsewatch/internal/poller"
	"github.com/jpalmerr/pulsewatch/internal/registry"
	"github.com/jpalmerr/pulsewatch/internal/stats"
)

var (
	// ErrNoTargets is returned by [Monitor.Start] when no valid target could
	// be loaded from any source.
	ErrNoTargets = registry.ErrNoTargets

	// ErrNotRunning is returned by [Monitor.ResetBackoff] outside a session.
	ErrNotRunning = poller.ErrNotRunning

	// ErrUnknownTarget is returned by [Monitor.ResetBackoff] for a URL that is
	// not monitored in the current session.
	ErrUnknownTarget = stats.ErrUnknownTarget
)

// InvalidTargetError describes a target entry that failed validation. Such
// entries are dropped with a warning when targets load.
type InvalidTargetError = registry.InvalidTargetError

// ValidateTarget reports whether raw is an absolute http or https URL with
// a host.
func ValidateTarget(raw string) bool {
	return registry.Validate(raw)
}
