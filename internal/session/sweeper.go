package session

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryStore is the slice of the storage layer the sweeper needs.
type ExpiryStore interface {
	ExpireSessions(ctx context.Context, ns Namespace, olderThan time.Time) (int64, error)
}

// Sweeper expires idle sessions in the background, independent of the
// request-serving workers. Anonymous sessions carry a shorter TTL than
// authenticated ones.
type Sweeper struct {
	store        ExpiryStore
	authTTL      time.Duration
	anonymousTTL time.Duration
	interval     time.Duration
	logger       *slog.Logger
}

// NewSweeper creates a Sweeper. If interval is <= 0 it defaults to 5m.
func NewSweeper(store ExpiryStore, authTTL, anonymousTTL, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:        store,
		authTTL:      authTTL,
		anonymousTTL: anonymousTTL,
		interval:     interval,
		logger:       slog.Default(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep of both namespaces.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	n, err := s.store.ExpireSessions(ctx, NamespaceAuthenticated, now.Add(-s.authTTL))
	if err != nil {
		s.logger.Warn("session sweep failed", "namespace", NamespaceAuthenticated, "error", err)
	} else if n > 0 {
		s.logger.Info("expired sessions", "namespace", NamespaceAuthenticated, "count", n)
	}

	n, err = s.store.ExpireSessions(ctx, NamespaceAnonymous, now.Add(-s.anonymousTTL))
	if err != nil {
		s.logger.Warn("session sweep failed", "namespace", NamespaceAnonymous, "error", err)
	} else if n > 0 {
		s.logger.Info("expired sessions", "namespace", NamespaceAnonymous, "count", n)
	}
}
