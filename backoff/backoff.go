// Package backoff computes the delay between attempts of a failed job.
//
// The delay travels with the job: the record stores a base delay
// (retryAfterSec) and a strategy name, and the strategy is resolved with
// ByName when the job fails. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy names understood by ByName.
const (
	NameConstant    = "constant"
	NameLinear      = "linear"
	NameExponential = "exponential"
	NameJitter      = "jitter"
)

// DefaultMax caps the growing strategies built by ByName.
const DefaultMax = time.Hour

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns the wait after attempt n (1-indexed) has failed.
	Delay(attempt int) time.Duration
}

// Constant waits the same interval after every attempt.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear waits Initial * attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential waits Initial * 2^(attempt-1), capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(grow(e.Initial, attempt), e.Max)
}

// Jitter is Exponential with full jitter: a uniform random delay in
// [0, min(Initial * 2^(attempt-1), Max)]. It spreads out retries of jobs
// that failed together.
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewJitter creates an exponential strategy with full jitter.
func NewJitter(initial, maxDelay time.Duration) *Jitter {
	return &Jitter{Initial: initial, Max: maxDelay}
}

func (j *Jitter) Delay(attempt int) time.Duration {
	ceiling := capped(grow(j.Initial, attempt), j.Max)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter does not need crypto rand
}

// ByName resolves a strategy by name around the base delay carried by a
// job record. Unknown and empty names resolve to Constant.
func ByName(name string, base time.Duration) Strategy {
	switch name {
	case NameLinear:
		return NewLinear(base, DefaultMax)
	case NameExponential:
		return NewExponential(base, DefaultMax)
	case NameJitter:
		return NewJitter(base, DefaultMax)
	default:
		return NewConstant(base)
	}
}

// Valid reports whether name is a known strategy. The empty name is valid
// and means constant.
func Valid(name string) bool {
	switch name {
	case "", NameConstant, NameLinear, NameExponential, NameJitter:
		return true
	}
	return false
}

func grow(initial time.Duration, attempt int) time.Duration {
	f := float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capped(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
