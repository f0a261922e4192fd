package dispatch

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned instead of calling a dependency whose
// breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type breaker struct {
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

// Breakers tracks one circuit breaker per named dependency. A breaker
// opens after threshold consecutive failures, stays open for cooldown,
// then admits a single probe call; the probe's outcome decides whether
// it closes again or re-opens.
type Breakers struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	byName    map[string]*breaker
	now       func() time.Time
}

// NewBreakers creates a breaker set.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breakers{
		threshold: threshold,
		cooldown:  cooldown,
		byName:    make(map[string]*breaker),
		now:       time.Now,
	}
}

// Allow reports whether a call to the named dependency may proceed.
// A true result during half-open claims the single probe slot; the
// caller must report the outcome via Success or Failure.
func (b *Breakers) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(name)
	switch br.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(br.openedAt) >= b.cooldown {
			br.state = breakerHalfOpen
			br.probing = true
			return true
		}
		return false
	case breakerHalfOpen:
		if br.probing {
			return false
		}
		br.probing = true
		return true
	}
	return false
}

// Success records a successful call, closing the breaker.
func (b *Breakers) Success(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(name)
	br.state = breakerClosed
	br.failures = 0
	br.probing = false
}

// Failure records a failed call. It opens the breaker once the failure
// count reaches the threshold, or immediately when a half-open probe
// fails.
func (b *Breakers) Failure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(name)
	if br.state == breakerHalfOpen {
		br.state = breakerOpen
		br.openedAt = b.now()
		br.probing = false
		return
	}
	br.failures++
	if br.failures >= b.threshold {
		br.state = breakerOpen
		br.openedAt = b.now()
	}
}

// Release gives back a probe slot claimed by Allow without judging the
// call, for when the failure was charged to a different dependency.
func (b *Breakers) Release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(name)
	if br.state == breakerHalfOpen {
		br.probing = false
	}
}

func (b *Breakers) get(name string) *breaker {
	br, ok := b.byName[name]
	if !ok {
		br = &breaker{}
		b.byName[name] = br
	}
	return br
}
