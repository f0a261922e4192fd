// Package dispatch routes each user message through language
// normalization, intent classification, and the owning handler, and
// keeps the per-session conversation state machine honest.
package dispatch

import (
	"fmt"

	"github.com/karmayogi/saarthi/internal/session"
)

// Event is a state-machine input.
type Event string

const (
	// EventMessage is a new user message arriving on the session.
	EventMessage Event = "message"
	// EventClassified fires once an intent has been assigned.
	EventClassified Event = "classified"
	// EventHandlerDone fires when the handler returned a final reply.
	EventHandlerDone Event = "handler_done"
	// EventHandlerFollowup fires when the handler needs another turn.
	EventHandlerFollowup Event = "handler_followup"
	// EventContinuation is a message routed straight to the pending handler.
	EventContinuation Event = "continuation"
	// EventStoreFailure marks the session unusable after a persistence error.
	EventStoreFailure Event = "store_failure"
)

// Transition returns the next state for (current, event). Every pair has
// a defined outcome; unexpected pairs return an error instead of moving.
func Transition(current session.State, ev Event) (session.State, error) {
	if ev == EventStoreFailure {
		return session.StateFailedTerminal, nil
	}
	switch current {
	case session.StateStarted, session.StateCompleted:
		if ev == EventMessage {
			return session.StateClassifying, nil
		}
	case session.StateClassifying:
		if ev == EventClassified {
			return session.StateHandlerActive, nil
		}
	case session.StateHandlerActive:
		switch ev {
		case EventHandlerDone:
			return session.StateCompleted, nil
		case EventHandlerFollowup:
			return session.StateAwaitingContinuation, nil
		}
	case session.StateAwaitingContinuation:
		switch ev {
		case EventContinuation:
			return session.StateHandlerActive, nil
		case EventMessage:
			// Stale or abandoned continuation: reclassify.
			return session.StateClassifying, nil
		}
	case session.StateFailedTerminal:
		// Terminal. Nothing moves a failed session.
		return session.StateFailedTerminal, fmt.Errorf("session is in terminal state")
	}
	return current, fmt.Errorf("invalid transition: %s on %s", ev, current)
}
