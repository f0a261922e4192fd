// Package session defines the conversation session model: the durable session
// record, its append-only turns, and the per-session serialization primitives.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Namespace partitions authenticated sessions from anonymous ones. Ids from
// the two namespaces can never collide: authenticated sessions key by the
// platform user id, anonymous ids are server-minted with an "anon:" prefix.
type Namespace string

const (
	NamespaceAuthenticated Namespace = "authenticated"
	NamespaceAnonymous     Namespace = "anonymous"
)

// State is the conversation state machine value attached to a session.
// The dispatcher is the sole writer of this field.
type State string

const (
	StateStarted              State = "STARTED"
	StateClassifying          State = "CLASSIFYING"
	StateHandlerActive        State = "HANDLER_ACTIVE"
	StateAwaitingContinuation State = "AWAITING_CONTINUATION"
	StateCompleted            State = "COMPLETED"
	StateFailedTerminal       State = "FAILED_TERMINAL"
)

// Session is the durable per-conversation record. Every mutation goes through
// a versioned compare-and-swap at the store layer; Version is the CAS key.
type Session struct {
	ID        string
	Namespace Namespace
	UserID    string
	Channel   string
	Language  string
	State     State

	// ActiveIntent and ActiveHandler are set while a multi-step flow is
	// pending; Continuation carries the flow's opaque state between turns.
	ActiveIntent    string
	ActiveHandler   string
	Continuation    json.RawMessage
	ContinuationSet time.Time

	Version    int64
	TurnCount  int
	CreatedAt  time.Time
	LastActive time.Time
}

// New creates a fresh session in the STARTED state.
func New(id string, ns Namespace, userID, channel string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		Namespace:  ns,
		UserID:     userID,
		Channel:    channel,
		Language:   "en",
		State:      StateStarted,
		Version:    1,
		CreatedAt:  now,
		LastActive: now,
	}
}

// NewAnonymousID mints a session id in the anonymous namespace.
func NewAnonymousID() string {
	return "anon:" + uuid.New().String()
}

// SetContinuation records a pending multi-step flow on the session.
func (s *Session) SetContinuation(intentLabel, handlerName string, data json.RawMessage) {
	s.ActiveIntent = intentLabel
	s.ActiveHandler = handlerName
	s.Continuation = data
	s.ContinuationSet = time.Now().UTC()
}

// ClearContinuation drops any pending flow state.
func (s *Session) ClearContinuation() {
	s.ActiveIntent = ""
	s.ActiveHandler = ""
	s.Continuation = nil
	s.ContinuationSet = time.Time{}
}

// ContinuationFresh reports whether a pending flow is still waiting for its
// follow-up turn. An expired continuation falls back to normal classification
// so an abandoned flow cannot capture unrelated turns forever.
func (s *Session) ContinuationFresh(ttl time.Duration) bool {
	if s.State != StateAwaitingContinuation || s.ActiveHandler == "" {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(s.ContinuationSet) < ttl
}

// Timings holds per-stage durations for one turn, in milliseconds.
type Timings struct {
	TranslateMs int64 `json:"translate_ms"`
	ClassifyMs  int64 `json:"classify_ms"`
	HandlerMs   int64 `json:"handler_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// Turn is one completed exchange. Turns are immutable once appended; the
// dispatcher appends a turn only after its handler completed or definitively
// failed.
type Turn struct {
	ID                  string
	SessionID           string
	Seq                 int
	Input               string
	DetectedLang        string
	CanonicalInput      string
	Intent              string
	Confidence          float64
	Handler             string
	Reply               string
	ErrorKind           string
	DegradedTranslation bool
	Timings             Timings
	CreatedAt           time.Time
}
