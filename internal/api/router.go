// Package api exposes the HTTP chat surface: session start and message
// endpoints for authenticated and anonymous callers, feedback
// submission, and health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/karmayogi/saarthi/internal/dispatch"
	"github.com/karmayogi/saarthi/internal/feedback"
	"github.com/karmayogi/saarthi/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Dispatcher is the slice of the dispatch layer the API needs.
type Dispatcher interface {
	Start(ctx context.Context, ns session.Namespace, userID, channel string) (*session.Session, error)
	Handle(ctx context.Context, req dispatch.Request) (*dispatch.Reply, error)
}

// HealthProber reports per-dependency health.
type HealthProber interface {
	Health(ctx context.Context) map[string]string
}

// Deps wires the API handler.
type Deps struct {
	Dispatcher Dispatcher
	Feedback   *feedback.Service
	Health     HealthProber
	JWTSecret  string
	// MaxConcurrent caps in-flight chat requests; excess requests get
	// an immediate 503 instead of queueing.
	MaxConcurrent int64
}

type app struct {
	deps     Deps
	pool     *semaphore.Weighted
	inFlight atomic.Int64
}

// NewHandler builds the top-level router.
func NewHandler(deps Deps) http.Handler {
	if deps.MaxConcurrent <= 0 {
		deps.MaxConcurrent = 64
	}
	a := &app{
		deps: deps,
		pool: semaphore.NewWeighted(deps.MaxConcurrent),
	}

	r := chi.NewRouter()
	r.Get("/health", a.handleHealth)
	r.Post("/feedback/submit", a.handleFeedback)

	r.Group(func(r chi.Router) {
		r.Use(BearerJWT(deps.JWTSecret))
		r.Post("/chat/start", a.admitted(a.handleStart))
		r.Post("/chat/send", a.admitted(a.handleSend))
	})

	r.Post("/anonymous/chat/start", a.admitted(a.handleAnonymousStart))
	r.Post("/anonymous/chat/send", a.admitted(a.handleAnonymousSend))

	return r
}

// admitted gates a chat endpoint on the concurrency pool.
func (a *app) admitted(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.pool.TryAcquire(1) {
			httpError(w, http.StatusServiceUnavailable, "overloaded", "too many requests in flight, try again shortly")
			return
		}
		a.inFlight.Add(1)
		defer func() {
			a.inFlight.Add(-1)
			a.pool.Release(1)
		}()
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
