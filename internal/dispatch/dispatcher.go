package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/karmayogi/saarthi/internal/handler"
	"github.com/karmayogi/saarthi/internal/inference"
	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/session"
	"github.com/karmayogi/saarthi/internal/storage"
	"github.com/karmayogi/saarthi/internal/telemetry"
)

var (
	// ErrSessionBusy means another turn holds the session token.
	ErrSessionBusy = errors.New("session busy")
	// ErrSessionNotFound means the session id is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminal means the session hit an unrecoverable store
	// failure earlier and cannot accept turns.
	ErrSessionTerminal = errors.New("session is in a terminal state")
	// ErrTurnLimit means the session reached its turn cap.
	ErrTurnLimit = errors.New("session turn limit reached")
	// ErrConflict means a concurrent writer updated the session first;
	// the caller can retry against the fresh state.
	ErrConflict = errors.New("session modified concurrently")
	// ErrStoreFailed means the turn could not be persisted.
	ErrStoreFailed = errors.New("session store failure")
)

// SessionStore is the slice of the store the dispatcher needs.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*session.Session, error)
	CreateSession(ctx context.Context, sess *session.Session) error
	UpdateSessionCAS(ctx context.Context, sess *session.Session) error
	FindSessionByUser(ctx context.Context, ns session.Namespace, userID, channel string) (*session.Session, error)
	AppendTurn(ctx context.Context, t *session.Turn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]session.Turn, error)
}

// Language normalizes input to the canonical language and renders
// replies back out.
type Language interface {
	Detect(text string) string
	ToCanonical(ctx context.Context, text, lang string) (string, bool)
	FromCanonical(ctx context.Context, text, target string) (string, bool)
}

// Classifier assigns an intent to canonical text.
type Classifier interface {
	Classify(ctx context.Context, text string, history []inference.Message, degraded bool) intent.Result
}

// Recorder accepts per-turn telemetry.
type Recorder interface {
	Record(ev telemetry.Event)
}

// Options wires a Dispatcher.
type Options struct {
	Store    SessionStore
	Language Language
	Classify Classifier
	Registry *handler.Registry
	Breakers *Breakers
	Locker   *session.Locker
	Recorder Recorder
	Logger   *slog.Logger

	RequestTimeout  time.Duration
	LockWait        time.Duration
	ContinuationTTL time.Duration
	MaxTurns        int
}

// Dispatcher executes one conversation turn end to end: serialize on the
// session, normalize language, pick a handler by continuation or
// classification, run it under its budget with breaker and retry
// discipline, and persist the outcome.
type Dispatcher struct {
	store    SessionStore
	language Language
	classify Classifier
	registry *handler.Registry
	breakers *Breakers
	locker   *session.Locker
	recorder Recorder
	logger   *slog.Logger

	requestTimeout  time.Duration
	lockWait        time.Duration
	continuationTTL time.Duration
	maxTurns        int
}

// New creates a Dispatcher from Options.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:           opts.Store,
		language:        opts.Language,
		classify:        opts.Classify,
		registry:        opts.Registry,
		breakers:        opts.Breakers,
		locker:          opts.Locker,
		recorder:        opts.Recorder,
		logger:          logger.With("component", "dispatch"),
		requestTimeout:  opts.RequestTimeout,
		lockWait:        opts.LockWait,
		continuationTTL: opts.ContinuationTTL,
		maxTurns:        opts.MaxTurns,
	}
	if d.requestTimeout <= 0 {
		d.requestTimeout = 30 * time.Second
	}
	if d.lockWait <= 0 {
		d.lockWait = 2 * time.Second
	}
	if d.maxTurns <= 0 {
		d.maxTurns = 100
	}
	return d
}

// Request is one incoming user message.
type Request struct {
	SessionID string
	UserID    string
	AuthToken string
	Anonymous bool
	Message   string
}

// Reply is the completed turn's outcome.
type Reply struct {
	SessionID  string
	TurnID     string
	Text       string
	Intent     string
	Confidence float64
	Handler    string
	State      session.State
	Degraded   bool
	Data       map[string]any
}

// Start finds the caller's most recent usable session or creates a fresh
// one. Anonymous callers always get a new server-minted session id.
func (d *Dispatcher) Start(ctx context.Context, ns session.Namespace, userID, channel string) (*session.Session, error) {
	if ns == session.NamespaceAnonymous {
		id := session.NewAnonymousID()
		sess := session.New(id, ns, id, channel)
		if err := d.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		return sess, nil
	}

	existing, err := d.store.FindSessionByUser(ctx, ns, userID, channel)
	if err == nil && existing.State != session.StateFailedTerminal && existing.TurnCount < d.maxTurns {
		return existing, nil
	}
	sess := session.New(uuid.New().String(), ns, userID, channel)
	if err := d.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return sess, nil
}

// fallbackReply is what the user sees when a handler fails even after
// its retry, or when the dependency's breaker is open.
const fallbackReply = "Sorry, I am having trouble with that right now. Please try again in a little while, or ask me something else."

// Handle runs one turn. The user always receives a reply text as long as
// the session store stays reachable; collaborator failures degrade to
// the fallback reply and are recorded on the turn.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	started := time.Now()

	release, err := d.locker.Acquire(ctx, req.SessionID, d.lockWait)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			return nil, ErrSessionBusy
		}
		return nil, err
	}
	defer release()

	sess, err := d.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if !ownedBy(sess, req) {
		// Foreign sessions read as not found so ids cannot be probed.
		return nil, ErrSessionNotFound
	}
	if sess.State == session.StateFailedTerminal {
		return nil, ErrSessionTerminal
	}
	if sess.TurnCount >= d.maxTurns {
		return nil, ErrTurnLimit
	}

	var timings session.Timings

	// Language normalization.
	translateStart := time.Now()
	lang := d.language.Detect(req.Message)
	canonical, degraded := d.language.ToCanonical(ctx, req.Message, lang)
	timings.TranslateMs = time.Since(translateStart).Milliseconds()
	sess.Language = lang

	// Pick the handler: a fresh continuation routes straight back to its
	// owner, everything else goes through classification.
	var (
		h         handler.Handler
		res       intent.Result
		hctx      = &handler.Context{Session: sess, UserID: req.UserID, AuthToken: req.AuthToken, Anonymous: req.Anonymous}
		errorKind string
	)
	if sess.ContinuationFresh(d.continuationTTL) {
		if resumed, ok := d.registry.ByName(sess.ActiveHandler); ok {
			h = resumed
			hctx.Continuation = sess.Continuation
			res = intent.Result{Label: intent.Label(sess.ActiveIntent), Confidence: 1, Source: "continuation"}
			if next, terr := Transition(sess.State, EventContinuation); terr == nil {
				sess.State = next
			}
		}
	}
	if h == nil {
		sess.ClearContinuation()
		if next, terr := Transition(sess.State, EventMessage); terr == nil {
			sess.State = next
		} else {
			sess.State = session.StateClassifying
		}

		classifyStart := time.Now()
		res = d.classify.Classify(ctx, canonical, d.history(ctx, sess.ID), degraded)
		timings.ClassifyMs = time.Since(classifyStart).Milliseconds()

		h = d.registry.Resolve(res.Label)
		if next, terr := Transition(sess.State, EventClassified); terr == nil {
			sess.State = next
		}
	}

	// Handler execution under its budget, with one retry on transient
	// failure and the dependency breaker around both attempts.
	handlerStart := time.Now()
	result, herr := d.runHandler(ctx, h, hctx, canonical)
	timings.HandlerMs = time.Since(handlerStart).Milliseconds()

	replyText := result.Reply
	if herr != nil {
		d.logger.Warn("handler failed", "handler", h.Name(), "session", sess.ID, "error", herr)
		replyText = fallbackReply
		result = handler.Result{Reply: fallbackReply}
		errorKind = errorKindFor(herr)
	}

	if result.Followup {
		sess.SetContinuation(string(res.Label), h.Name(), result.Continuation)
		if next, terr := Transition(sess.State, EventHandlerFollowup); terr == nil {
			sess.State = next
		}
	} else {
		sess.ClearContinuation()
		if next, terr := Transition(sess.State, EventHandlerDone); terr == nil {
			sess.State = next
		}
	}

	// Render the reply in the user's language.
	rendered, renderDegraded := d.language.FromCanonical(ctx, replyText, lang)
	degraded = degraded || renderDegraded

	sess.TurnCount++
	timings.TotalMs = time.Since(started).Milliseconds()

	turn := &session.Turn{
		ID:                  uuid.New().String(),
		SessionID:           sess.ID,
		Seq:                 sess.TurnCount,
		Input:               req.Message,
		DetectedLang:        lang,
		CanonicalInput:      canonical,
		Intent:              string(res.Label),
		Confidence:          res.Confidence,
		Handler:             h.Name(),
		Reply:               rendered,
		ErrorKind:           errorKind,
		DegradedTranslation: degraded,
		Timings:             timings,
		CreatedAt:           time.Now().UTC(),
	}

	if err := d.persist(ctx, sess, turn); err != nil {
		return nil, err
	}

	if d.recorder != nil {
		outcome := "ok"
		if errorKind != "" {
			outcome = errorKind
		}
		d.recorder.Record(telemetry.Event{
			TurnID:    turn.ID,
			SessionID: sess.ID,
			Intent:    turn.Intent,
			Handler:   turn.Handler,
			Outcome:   outcome,
			Timings:   timings,
			CreatedAt: turn.CreatedAt,
		})
	}

	return &Reply{
		SessionID:  sess.ID,
		TurnID:     turn.ID,
		Text:       rendered,
		Intent:     turn.Intent,
		Confidence: turn.Confidence,
		Handler:    turn.Handler,
		State:      sess.State,
		Degraded:   degraded,
		Data:       result.Data,
	}, nil
}

// runHandler calls the handler inside its time budget with breaker and
// single-retry discipline. Breakers are keyed per external collaborator,
// not per handler: a handler declares the collaborators it calls, a
// failure is charged to the one named by the error, and only timeouts no
// collaborator can own fall back to the handler's own key.
func (d *Dispatcher) runHandler(ctx context.Context, h handler.Handler, hctx *handler.Context, input string) (handler.Result, error) {
	keys := append(h.Dependencies(), h.Name())
	for i, key := range keys {
		if !d.breakers.Allow(key) {
			for _, claimed := range keys[:i] {
				d.breakers.Release(claimed)
			}
			return handler.Result{}, fmt.Errorf("%s: %w", key, ErrBreakerOpen)
		}
	}

	result, err := d.callOnce(ctx, h, hctx, input)
	if err == nil {
		d.succeedAll(keys)
		return result, nil
	}
	failed := d.chargeFailure(keys, h.Name(), err)

	if !Transient(err) || ctx.Err() != nil {
		return handler.Result{}, err
	}
	if !d.breakers.Allow(failed) {
		return handler.Result{}, fmt.Errorf("%s: %w", failed, ErrBreakerOpen)
	}
	result, err = d.callOnce(ctx, h, hctx, input)
	if err != nil {
		d.chargeFailure([]string{failed}, h.Name(), err)
		return handler.Result{}, err
	}
	d.succeedAll([]string{failed})
	return result, nil
}

// chargeFailure records one failure against the collaborator the error
// names, or against fallback when no collaborator can own it. The other
// keys give back the probe slots they may hold.
func (d *Dispatcher) chargeFailure(keys []string, fallback string, err error) string {
	key, ok := collaboratorFor(err)
	if !ok {
		key = fallback
	}
	d.breakers.Failure(key)
	for _, k := range keys {
		if k != key {
			d.breakers.Release(k)
		}
	}
	return key
}

func (d *Dispatcher) succeedAll(keys []string) {
	for _, key := range keys {
		d.breakers.Success(key)
	}
}

func (d *Dispatcher) callOnce(ctx context.Context, h handler.Handler, hctx *handler.Context, input string) (handler.Result, error) {
	budget := h.Budget()
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	if budget <= 0 {
		return handler.Result{}, context.DeadlineExceeded
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return h.Handle(callCtx, hctx, input)
}

// history builds a short conversation window for the classifier.
func (d *Dispatcher) history(ctx context.Context, sessionID string) []inference.Message {
	turns, err := d.store.ListTurns(ctx, sessionID, 6)
	if err != nil || len(turns) == 0 {
		return nil
	}
	msgs := make([]inference.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			inference.Message{Role: "user", Content: t.CanonicalInput},
			inference.Message{Role: "assistant", Content: t.Reply},
		)
	}
	return msgs
}

// persist writes the session (CAS) and appends the turn. A lost version
// race rejects this turn and leaves the session as the winner wrote it;
// any other store failure marks the session terminal.
func (d *Dispatcher) persist(ctx context.Context, sess *session.Session, turn *session.Turn) error {
	if err := d.store.UpdateSessionCAS(ctx, sess); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			d.logger.Warn("session version conflict", "session", sess.ID)
			return ErrConflict
		}
		d.logger.Error("session persist failed", "session", sess.ID, "error", err)
		d.markTerminal(sess)
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	if err := d.store.AppendTurn(ctx, turn); err != nil {
		d.logger.Error("turn persist failed", "session", sess.ID, "turn", turn.ID, "error", err)
		d.markTerminal(sess)
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

// markTerminal best-effort flips the session to its terminal state so a
// later turn does not resume from inconsistent data.
func (d *Dispatcher) markTerminal(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fresh, err := d.store.GetSession(ctx, sess.ID)
	if err != nil {
		return
	}
	fresh.State = session.StateFailedTerminal
	if err := d.store.UpdateSessionCAS(ctx, fresh); err != nil {
		d.logger.Warn("could not mark session terminal", "session", sess.ID, "error", err)
	}
}

// ownedBy reports whether the caller may act on the session. An
// authenticated session answers only to its user; anonymous callers can
// only reach anonymous sessions, where holding the unguessable id is
// the credential.
func ownedBy(sess *session.Session, req Request) bool {
	if req.Anonymous {
		return sess.Namespace == session.NamespaceAnonymous
	}
	return sess.Namespace == session.NamespaceAuthenticated && sess.UserID == req.UserID
}

func errorKindFor(err error) string {
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case Transient(err):
		return "dependency_unavailable"
	default:
		return "handler_error"
	}
}
