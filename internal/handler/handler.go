// Package handler defines the per-intent conversation handlers.
//
// A handler receives the canonical-language user message plus session
// context and produces a reply. Handlers that need another turn from the
// user (OTP entry, missing details) set Followup and stash continuation
// state; the next message in that session is routed straight back to the
// same handler.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/session"
)

// Context carries everything a handler may need for one turn.
type Context struct {
	Session      *session.Session
	UserID       string
	AuthToken    string
	Anonymous    bool
	Continuation json.RawMessage
}

// Result is a handler's outcome for one turn.
type Result struct {
	// Reply is the canonical-language response text.
	Reply string
	// Followup requests that the next user message bypass classification
	// and return to this handler.
	Followup bool
	// Continuation is opaque state persisted on the session when
	// Followup is set.
	Continuation json.RawMessage
	// Data holds structured extras surfaced to API clients.
	Data map[string]any
}

// Handler processes messages for one or more intents.
type Handler interface {
	// Name identifies the handler in session state and telemetry.
	Name() string
	// Supports reports whether the handler serves the given intent.
	Supports(label intent.Label) bool
	// Budget is the per-call time allowance for this handler.
	Budget() time.Duration
	// Dependencies names the external collaborators the handler calls,
	// each of which gets its own circuit breaker.
	Dependencies() []string
	// Handle produces the reply for one turn. Input is the canonical
	// text of the user message.
	Handle(ctx context.Context, hctx *Context, input string) (Result, error)
}
