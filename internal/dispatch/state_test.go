package dispatch

import (
	"testing"

	"github.com/karmayogi/saarthi/internal/session"
)

func TestTransitionHappyPath(t *testing.T) {
	steps := []struct {
		from session.State
		ev   Event
		want session.State
	}{
		{session.StateStarted, EventMessage, session.StateClassifying},
		{session.StateClassifying, EventClassified, session.StateHandlerActive},
		{session.StateHandlerActive, EventHandlerDone, session.StateCompleted},
		{session.StateCompleted, EventMessage, session.StateClassifying},
		{session.StateHandlerActive, EventHandlerFollowup, session.StateAwaitingContinuation},
		{session.StateAwaitingContinuation, EventContinuation, session.StateHandlerActive},
		{session.StateAwaitingContinuation, EventMessage, session.StateClassifying},
	}
	for _, s := range steps {
		got, err := Transition(s.from, s.ev)
		if err != nil {
			t.Errorf("Transition(%s, %s) error: %v", s.from, s.ev, err)
			continue
		}
		if got != s.want {
			t.Errorf("Transition(%s, %s) = %s, want %s", s.from, s.ev, got, s.want)
		}
	}
}

func TestTransitionStoreFailureFromAnywhere(t *testing.T) {
	states := []session.State{
		session.StateStarted, session.StateClassifying, session.StateHandlerActive,
		session.StateAwaitingContinuation, session.StateCompleted,
	}
	for _, s := range states {
		got, err := Transition(s, EventStoreFailure)
		if err != nil || got != session.StateFailedTerminal {
			t.Errorf("Transition(%s, store_failure) = %s, %v", s, got, err)
		}
	}
}

func TestTransitionInvalidPairs(t *testing.T) {
	pairs := []struct {
		from session.State
		ev   Event
	}{
		{session.StateStarted, EventHandlerDone},
		{session.StateClassifying, EventMessage},
		{session.StateCompleted, EventClassified},
		{session.StateFailedTerminal, EventMessage},
		{session.StateFailedTerminal, EventContinuation},
	}
	for _, p := range pairs {
		if _, err := Transition(p.from, p.ev); err == nil {
			t.Errorf("Transition(%s, %s) succeeded, want error", p.from, p.ev)
		}
	}
}
