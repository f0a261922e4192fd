package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned when another turn is already in flight for the session
// and the token was not released within the wait window.
var ErrBusy = errors.New("session busy: another turn is in flight")

// Locker hands out per-session mutual-exclusion tokens. At most one turn per
// session id may hold the token at a time; requests for distinct sessions
// never contend. Entries are reference-counted so the map does not grow
// unboundedly with expired sessions.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Acquire obtains the token for the session id, waiting up to wait for an
// in-flight turn to finish. It returns a release func on success, or ErrBusy
// if the token could not be obtained in time. Context cancellation also
// aborts the wait.
func (l *Locker) Acquire(ctx context.Context, id string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-e.ch:
		return func() { l.release(id, e) }, nil
	case <-timer.C:
		l.drop(id, e)
		return nil, ErrBusy
	case <-ctx.Done():
		l.drop(id, e)
		return nil, ctx.Err()
	}
}

func (l *Locker) release(id string, e *lockEntry) {
	e.ch <- struct{}{}
	l.drop(id, e)
}

func (l *Locker) drop(id string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}
