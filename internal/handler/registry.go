package handler

import (
	"fmt"

	"github.com/karmayogi/saarthi/internal/intent"
)

// Registry maps intents to handlers. Registration happens at startup;
// lookups after that are read-only, so no locking is needed.
type Registry struct {
	handlers []Handler
	byName   map[string]Handler
	fallback Handler
}

// NewRegistry creates an empty registry with the given fallback handler.
// The fallback serves any intent no registered handler supports.
func NewRegistry(fallback Handler) *Registry {
	r := &Registry{
		byName:   make(map[string]Handler),
		fallback: fallback,
	}
	r.byName[fallback.Name()] = fallback
	return r
}

// Register adds a handler. Duplicate names are a wiring bug.
func (r *Registry) Register(h Handler) error {
	if _, ok := r.byName[h.Name()]; ok {
		return fmt.Errorf("handler %q already registered", h.Name())
	}
	r.handlers = append(r.handlers, h)
	r.byName[h.Name()] = h
	return nil
}

// Resolve returns the handler for an intent, falling back to the
// general handler when nothing claims it.
func (r *Registry) Resolve(label intent.Label) Handler {
	for _, h := range r.handlers {
		if h.Supports(label) {
			return h
		}
	}
	return r.fallback
}

// ByName looks up a handler for continuation routing.
func (r *Registry) ByName(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Fallback returns the general-support handler.
func (r *Registry) Fallback() Handler {
	return r.fallback
}
