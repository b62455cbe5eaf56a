package poller

import (
	"errors"
	"math/rand/v2"
	"time"
)

// Default delay window between cycles of a single wallet.
const (
	DefaultMinDelay = 30 * time.Second
	DefaultMaxDelay = 60 * time.Second
)

// Policy controls when a loop runs its cycles.
//
// The first cycle fires after InitialDelay (zero unless StartupStagger is
// set); every following cycle fires NextDelay after the previous one
// completed.
type Policy struct {
	// MinDelay and MaxDelay bound the uniform post-cycle delay (inclusive).
	MinDelay time.Duration
	MaxDelay time.Duration

	// StartupStagger spreads the first cycle of each wallet uniformly over
	// [0, StartupStagger). Zero fires every wallet immediately.
	StartupStagger time.Duration
}

// DefaultPolicy returns the 30-60s window with no startup stagger.
func DefaultPolicy() Policy {
	return Policy{MinDelay: DefaultMinDelay, MaxDelay: DefaultMaxDelay}
}

// Validate reports whether the policy can be used by a loop.
func (p Policy) Validate() error {
	if p.MinDelay <= 0 {
		return errors.New("min delay must be positive")
	}
	if p.MaxDelay < p.MinDelay {
		return errors.New("max delay must not be less than min delay")
	}
	if p.StartupStagger < 0 {
		return errors.New("startup stagger cannot be negative")
	}
	return nil
}

// NextDelay draws the wait before the next cycle from [MinDelay, MaxDelay].
func (p Policy) NextDelay() time.Duration {
	span := p.MaxDelay - p.MinDelay
	if span <= 0 {
		return p.MinDelay
	}
	return p.MinDelay + rand.N(span+1)
}

// InitialDelay draws the wait before the first cycle.
func (p Policy) InitialDelay() time.Duration {
	if p.StartupStagger <= 0 {
		return 0
	}
	return rand.N(p.StartupStagger)
}
