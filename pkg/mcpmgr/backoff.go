package mcpmgr

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBaseDelay tolerates backends that take tens of seconds to boot.
	DefaultBaseDelay = 10 * time.Second
	// DefaultMaxDelay caps every computed delay.
	DefaultMaxDelay = 60 * time.Second
	// DefaultMultiplier yields 10s, 15s, 22.5s, 33.75s, 50.6s, 60s...
	DefaultMultiplier = 1.5
)

// Backoff holds the process-wide restart delay parameters. Delays are a pure
// function of the attempt number.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the standard restart backoff.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay, Multiplier: DefaultMultiplier}
}

func (b Backoff) normalized() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBaseDelay
	}
	if b.Max <= 0 {
		b.Max = DefaultMaxDelay
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Multiplier < 1 {
		b.Multiplier = DefaultMultiplier
	}
	return b
}

// Delay returns min(Base * Multiplier^attempt, Max) for a 0-indexed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// sleepContext waits for d or until ctx is done, reporting whether the full
// delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
