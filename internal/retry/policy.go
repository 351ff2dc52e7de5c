package retry

import (
	"math"
	"math/rand"
	"time"

	"quantpipe/internal/config"
	"quantpipe/internal/state"
)

// Decision is the policy's answer for one failed attempt.
type Decision struct {
	Retry   bool
	Backoff time.Duration
}

// Policy computes retry decisions from configured budgets. Attempt counts
// come from the symbol state's retry counter and are never reset within a
// run.
type Policy struct {
	maxTransient   int
	maxComputation int
	initial        time.Duration
	max            time.Duration
}

// NewPolicy constructs a policy from workflow configuration.
func NewPolicy(cfg config.Workflow) *Policy {
	return &Policy{
		maxTransient:   cfg.MaxTransientRetries,
		maxComputation: cfg.MaxComputationRetries,
		initial:        time.Duration(cfg.BackoffInitialMS) * time.Millisecond,
		max:            time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
}

// Decide reports whether a unit that has already failed attemptCount times
// should be retried, and the delay before the next attempt.
//
// Transient failures retry with exponential backoff and full jitter;
// computation failures retry a smaller fixed number of times with plain
// exponential backoff. Validation failures are never retried here — they are
// routed to the gate's data-quality path, since retrying without fixing the
// input is futile. Infrastructure failures abort the stage and are never
// retried per symbol.
func (p *Policy) Decide(category state.ErrorCategory, attemptCount int) Decision {
	switch category {
	case state.CategoryTransient, state.CategoryGateFailed:
		if attemptCount >= p.maxTransient {
			return Decision{}
		}
		return Decision{Retry: true, Backoff: p.jitteredBackoff(attemptCount + 1)}
	case state.CategoryComputation:
		if attemptCount >= p.maxComputation {
			return Decision{}
		}
		return Decision{Retry: true, Backoff: p.exponentialBackoff(attemptCount + 1)}
	default:
		return Decision{}
	}
}

// exponentialBackoff returns initial * 2^(attempt-1), capped at max.
func (p *Policy) exponentialBackoff(attempt int) time.Duration {
	d := time.Duration(float64(p.initial) * math.Pow(2, float64(attempt-1)))
	if p.max > 0 && d > p.max {
		return p.max
	}
	return d
}

// jitteredBackoff returns a random duration in [0, exponentialBackoff],
// preventing a thundering herd when many symbols retry simultaneously.
func (p *Policy) jitteredBackoff(attempt int) time.Duration {
	base := p.exponentialBackoff(attempt)
	return time.Duration(rand.Float64() * float64(base))
}
