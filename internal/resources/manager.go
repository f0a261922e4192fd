// Package resources owns the process-lifetime dependencies: the session
// store and the collaborator clients. One Manager is built at startup
// and shared by the API surface, the dispatcher, and the status command.
package resources

import (
	"context"
	"fmt"
	"time"

	"github.com/karmayogi/saarthi/internal/config"
	"github.com/karmayogi/saarthi/internal/inference"
	"github.com/karmayogi/saarthi/internal/kb"
	"github.com/karmayogi/saarthi/internal/profile"
	"github.com/karmayogi/saarthi/internal/storage"
	"github.com/karmayogi/saarthi/internal/ticketing"
	"github.com/karmayogi/saarthi/internal/translate"
)

// Manager holds the opened store and collaborator clients.
type Manager struct {
	Store     *storage.Store
	Translate *translate.Client
	Inference *inference.Client
	Profile   *profile.Client
	Ticketing *ticketing.Client
	KB        *kb.Client
}

// Open builds all clients from config and opens the session store.
func Open(cfg config.Config) (*Manager, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &Manager{
		Store:     store,
		Translate: translate.New(cfg.Translate.BaseURL, parseDurationOr(cfg.Translate.Timeout, 5*time.Second)),
		Inference: inference.NewClient(cfg.Inference.BaseURL, cfg.Inference.APIKey, parseDurationOr(cfg.Inference.Timeout, 8*time.Second)),
		Profile:   profile.New(cfg.Profile.BaseURL, parseDurationOr(cfg.Profile.Timeout, 10*time.Second)),
		Ticketing: ticketing.New(cfg.Ticketing.BaseURL, parseDurationOr(cfg.Ticketing.Timeout, 10*time.Second)),
		KB:        kb.New(cfg.KB.BaseURL, parseDurationOr(cfg.KB.Timeout, 5*time.Second)),
	}, nil
}

// Health probes the store plus the inference and translation backends,
// the collaborators every turn touches. Ticketing and the KB are left
// out: only some intents need them and the dispatcher degrades per
// handler when they fail.
func (m *Manager) Health(ctx context.Context) map[string]string {
	out := make(map[string]string)

	if err := m.Store.Ping(ctx); err != nil {
		out["store"] = "down"
	} else {
		out["store"] = "ok"
	}
	if m.Inference.IsRunning(ctx) {
		out["inference"] = "ok"
	} else {
		out["inference"] = "down"
	}
	if m.Translate.IsRunning(ctx) {
		out["translate"] = "ok"
	} else {
		out["translate"] = "down"
	}
	return out
}

// Close releases the store.
func (m *Manager) Close() error {
	return m.Store.Close()
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
