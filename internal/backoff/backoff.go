// Package backoff tracks the per-target failure delay that decides whether a
// target is probed in a given cycle.
//
// The delay starts at the initial value on the first failure and doubles on
// every consecutive failure up to the maximum. A success resets it to zero.
//
// How a non-zero delay is released depends on the [Decay] policy. With
// [DecayNone] a target stays suppressed until it is [Controller.Reset]. With
// [DecayElapsed] it becomes eligible again once the delay has passed since
// its last failure.
package backoff

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = time.Minute
)

// Decay selects how a suppressed target becomes eligible again.
type Decay string

const (
	// DecayNone keeps a target suppressed while its delay is non-zero.
	DecayNone Decay = "none"

	// DecayElapsed releases a target once its delay has elapsed.
	DecayElapsed Decay = "elapsed"
)

// ParseDecay validates a decay policy name. The empty string maps to DecayNone.
func ParseDecay(s string) (Decay, error) {
	switch Decay(s) {
	case "", DecayNone:
		return DecayNone, nil
	case DecayElapsed:
		return DecayElapsed, nil
	default:
		return "", fmt.Errorf("unknown backoff decay %q (expected %q or %q)", s, DecayNone, DecayElapsed)
	}
}

type state struct {
	delay       time.Duration
	lastFailure time.Time
}

// Controller holds the backoff state of every target.
//
// Methods are safe for concurrent use so that an external reset can race
// with a running session.
type Controller struct {
	initial time.Duration
	max     time.Duration
	decay   Decay

	mu     sync.Mutex
	states map[string]*state
}

// New creates a controller. Non-positive delays fall back to the defaults and
// max is raised to initial when it is smaller.
func New(initial, max time.Duration, decay Decay) *Controller {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < initial {
		max = initial
	}
	if decay == "" {
		decay = DecayNone
	}
	return &Controller{
		initial: initial,
		max:     max,
		decay:   decay,
		states:  make(map[string]*state),
	}
}

// Eligible reports whether the target may be probed at now.
func (c *Controller) Eligible(url string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[url]
	if !ok || st.delay == 0 {
		return true
	}
	if c.decay == DecayElapsed {
		return !now.Before(st.lastFailure.Add(st.delay))
	}
	return false
}

// OnSuccess clears the target's delay.
func (c *Controller) OnSuccess(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.states[url]; ok {
		st.delay = 0
		st.lastFailure = time.Time{}
	}
}

// OnFailure grows the target's delay and returns the new value.
func (c *Controller) OnFailure(url string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[url]
	if !ok {
		st = &state{}
		c.states[url] = st
	}

	switch {
	case st.delay == 0:
		st.delay = c.initial
	case st.delay >= c.max/2:
		st.delay = c.max
	default:
		st.delay *= 2
	}
	st.lastFailure = now
	return st.delay
}

// Reset clears the target's delay. It reports whether a delay was pending.
func (c *Controller) Reset(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[url]
	if !ok || st.delay == 0 {
		return false
	}
	st.delay = 0
	st.lastFailure = time.Time{}
	return true
}

// Delay returns the current delay of a target (zero when eligible now).
func (c *Controller) Delay(url string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.states[url]; ok {
		return st.delay
	}
	return 0
}

// Delays returns the current non-zero delays keyed by URL.
func (c *Controller) Delays() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]time.Duration, len(c.states))
	for url, st := range c.states {
		if st.delay > 0 {
			out[url] = st.delay
		}
	}
	return out
}
