package engine

import (
	"strings"
	"sync"
	"time"
)

// breaker is a consecutive-failure circuit breaker keyed by task key.
//
// A success closes the circuit. Once failures reach the trip threshold the
// circuit opens for baseDelay, doubling per further failure up to maxDelay.
// A key idle for resetAfter since its last failure starts over.
type breaker struct {
	mu sync.Mutex
	m  map[string]*circuit
}

type circuit struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type breakerPolicy struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
}

// policyFor returns the effective policy, or false when the breaker is off.
func policyFor(cfg Config, opt TaskOptions) (breakerPolicy, bool) {
	trip := cfg.CircuitTripFailures
	switch {
	case trip < 0, opt.CircuitTripFailures < 0:
		return breakerPolicy{}, false
	case opt.CircuitTripFailures > 0:
		trip = opt.CircuitTripFailures
	case trip == 0:
		trip = 5
	}
	return breakerPolicy{
		trip:       trip,
		baseDelay:  cfg.CircuitBaseDelay,
		maxDelay:   cfg.CircuitMaxDelay,
		resetAfter: cfg.CircuitResetAfter,
	}, true
}

func (b *breaker) lockedGet(key string) *circuit {
	if b.m == nil {
		b.m = make(map[string]*circuit)
	}
	c := b.m[key]
	if c == nil {
		c = &circuit{}
		b.m[key] = c
	}
	return c
}

func (c *circuit) maybeReset(now time.Time, p breakerPolicy) {
	if !c.lastFailure.IsZero() && p.resetAfter > 0 && now.Sub(c.lastFailure) > p.resetAfter {
		*c = circuit{}
	}
}

// open reports whether key is currently short-circuited and until when.
func (b *breaker) open(now time.Time, key string, p breakerPolicy) (bool, time.Time) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.lockedGet(key)
	c.maybeReset(now, p)
	if now.Before(c.openUntil) {
		return true, c.openUntil
	}
	return false, time.Time{}
}

// record feeds the final result of a run (after retries) into key's circuit.
func (b *breaker) record(now time.Time, key string, p breakerPolicy, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.lockedGet(key)
	c.maybeReset(now, p)
	if err == nil {
		*c = circuit{}
		return
	}
	c.fails++
	c.lastFailure = now
	if c.fails < p.trip {
		return
	}
	d := p.baseDelay
	for i := p.trip; i < c.fails && d < p.maxDelay; i++ {
		d *= 2
	}
	c.openUntil = now.Add(min(d, p.maxDelay))
}

func (b *breaker) counts(now time.Time) (total, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.m {
		total++
		if now.Before(c.openUntil) {
			open++
		}
	}
	return total, open
}
