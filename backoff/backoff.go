// Package backoff provides the retry delay strategies applied when a failed
// execution is cloned for another attempt. All strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long the clone for retry attempt n (1-indexed)
	// waits before it becomes eligible.
	Delay(attempt int) time.Duration
}

// Func adapts an ordinary function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval before every attempt. It is the
// engine's default, built from the job's RetryDelay.
func Constant(interval time.Duration) Strategy {
	return Func(func(int) time.Duration { return interval })
}

// Linear waits step * attempt, capped at maxDelay when maxDelay > 0.
func Linear(step, maxDelay time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		return capAt(step*time.Duration(attempt), maxDelay)
	})
}

// Exponential waits initial * 2^(attempt-1), capped at maxDelay when
// maxDelay > 0.
func Exponential(initial, maxDelay time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		return capAt(exponential(initial, attempt, maxDelay), maxDelay)
	})
}

// Jitter spreads the delay of s uniformly over [0, s.Delay(n)] so clones
// failing together do not become eligible together.
func Jitter(s Strategy) Strategy {
	return Func(func(attempt int) time.Duration {
		return time.Duration(rand.Float64() * float64(s.Delay(attempt))) //nolint:gosec // jitter does not need crypto rand
	})
}

// ExponentialWithJitter is Jitter(Exponential(initial, maxDelay)).
func ExponentialWithJitter(initial, maxDelay time.Duration) Strategy {
	return Jitter(Exponential(initial, maxDelay))
}

// PlannedFor returns the instant the clone for attempt becomes eligible,
// or nil when the delay is not positive.
func PlannedFor(s Strategy, attempt int, now time.Time) *time.Time {
	d := s.Delay(attempt)
	if d <= 0 {
		return nil
	}
	t := now.Add(d).UTC()
	return &t
}

func exponential(initial time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(initial) * math.Pow(2, float64(attempt-1))
	if f > math.MaxInt64 {
		if maxDelay > 0 {
			return maxDelay
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capAt(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
