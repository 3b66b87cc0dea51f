package transport

import (
	"math/rand"
	"time"
)

// Default reconnection policy values.
const (
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxAttempts  = 8
	DefaultMultiplier   = 2.0
	DefaultJitterFactor = 0.2
)

// Policy computes reconnection delays from the attempt number alone.
//
// It never inspects socket or error state, which keeps it a deterministic,
// independently testable calculator: delay(n) = BaseDelay * Multiplier^(n-1)
// for 1-indexed attempts, perturbed by bounded random jitter so that many
// clients recovering from the same outage do not redial in lockstep.
type Policy struct {
	// BaseDelay is the delay before the first reconnect attempt.
	BaseDelay time.Duration
	// MaxAttempts bounds consecutive attempts; beyond it Delay reports
	// exhaustion instead of a delay.
	MaxAttempts int
	// Multiplier is the per-attempt growth factor.
	Multiplier float64
	// JitterFactor bounds the random perturbation as a fraction of the
	// computed delay: the result lies in [d*(1-j), d*(1+j)]. Zero disables
	// jitter.
	JitterFactor float64

	// Rand overrides the jitter source. Nil uses math/rand. Tests inject a
	// fixed function to make delays deterministic.
	Rand func() float64
}

// DefaultPolicy returns the stock reconnection policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    DefaultBaseDelay,
		MaxAttempts:  DefaultMaxAttempts,
		Multiplier:   DefaultMultiplier,
		JitterFactor: DefaultJitterFactor,
	}
}

// withDefaults fills unset fields. A fully zero policy becomes DefaultPolicy;
// a partially set one keeps its explicit values, including a deliberate zero
// JitterFactor.
func (p Policy) withDefaults() Policy {
	if p.BaseDelay == 0 && p.MaxAttempts == 0 && p.Multiplier == 0 && p.JitterFactor == 0 {
		p = DefaultPolicy()
		return p
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Multiplier == 0 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Center returns the unjittered delay for the given 1-indexed attempt.
func (p Policy) Center(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Delay returns the delay before the given 1-indexed attempt, or ok=false
// when the attempt budget is exhausted.
func (p Policy) Delay(attempt int) (delay time.Duration, ok bool) {
	if attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}
	d := p.Center(attempt)
	if p.JitterFactor > 0 {
		randFloat := p.Rand
		if randFloat == nil {
			randFloat = rand.Float64
		}
		// Spread uniformly across [-jitter, +jitter] around the center.
		offset := (randFloat()*2 - 1) * p.JitterFactor * float64(d)
		d += time.Duration(offset)
	}
	if d < 0 {
		d = 0
	}
	return d, true
}
