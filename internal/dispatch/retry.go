package dispatch

import (
	"context"
	"errors"

	"github.com/karmayogi/saarthi/internal/inference"
	"github.com/karmayogi/saarthi/internal/kb"
	"github.com/karmayogi/saarthi/internal/profile"
	"github.com/karmayogi/saarthi/internal/ticketing"
	"github.com/karmayogi/saarthi/internal/translate"
)

// Transient reports whether an error is worth one more attempt:
// collaborator outages and timeouts, but never bad input or a caller
// cancellation.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, profile.ErrUnavailable) ||
		errors.Is(err, ticketing.ErrUnavailable) ||
		errors.Is(err, kb.ErrUnavailable) ||
		errors.Is(err, translate.ErrUnavailable) ||
		errors.Is(err, inference.ErrUnavailable)
}

// collaboratorFor names the external dependency an error came from, so
// failures open the breaker of the service that is actually down.
func collaboratorFor(err error) (string, bool) {
	switch {
	case errors.Is(err, profile.ErrUnavailable):
		return "profile", true
	case errors.Is(err, ticketing.ErrUnavailable):
		return "ticketing", true
	case errors.Is(err, kb.ErrUnavailable):
		return "kb", true
	case errors.Is(err, translate.ErrUnavailable):
		return "translate", true
	case errors.Is(err, inference.ErrUnavailable):
		return "inference", true
	}
	return "", false
}
