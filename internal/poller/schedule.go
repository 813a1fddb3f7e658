package poller

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule returns the cycle schedule. A non-empty expr is parsed as a
// five-field cron expression (or a descriptor such as "@hourly"); otherwise
// cycles fire every interval.
func ParseSchedule(expr string, interval time.Duration) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		if interval < time.Second {
			return nil, fmt.Errorf("interval must be at least 1s, got %s", interval)
		}
		return cron.Every(interval), nil
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}
