package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karmayogi/saarthi/internal/handler"
	"github.com/karmayogi/saarthi/internal/inference"
	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/kb"
	"github.com/karmayogi/saarthi/internal/profile"
	"github.com/karmayogi/saarthi/internal/session"
	"github.com/karmayogi/saarthi/internal/storage"
	"github.com/karmayogi/saarthi/internal/telemetry"
)

type fakeLanguage struct {
	lang     string
	degraded bool
}

func (f *fakeLanguage) Detect(string) string { return f.lang }

func (f *fakeLanguage) ToCanonical(_ context.Context, text, _ string) (string, bool) {
	return text, f.degraded
}

func (f *fakeLanguage) FromCanonical(_ context.Context, text, _ string) (string, bool) {
	return text, f.degraded
}

type fakeClassifier struct {
	mu       sync.Mutex
	calls    int
	degraded []bool
	result   intent.Result
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ []inference.Message, degraded bool) intent.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.degraded = append(f.degraded, degraded)
	return f.result
}

func (f *fakeClassifier) setResult(r intent.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

type fakeHandler struct {
	name   string
	label  intent.Label
	budget time.Duration
	deps   []string
	mu     sync.Mutex
	calls  int
	fn     func(ctx context.Context, hctx *handler.Context, input string) (handler.Result, error)
}

func (f *fakeHandler) Name() string                 { return f.name }
func (f *fakeHandler) Supports(l intent.Label) bool { return l == f.label }
func (f *fakeHandler) Dependencies() []string       { return f.deps }
func (f *fakeHandler) Budget() time.Duration {
	if f.budget > 0 {
		return f.budget
	}
	return 5 * time.Second
}

func (f *fakeHandler) Handle(ctx context.Context, hctx *handler.Context, input string) (handler.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, hctx, input)
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (f *fakeRecorder) Record(ev telemetry.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type testEnv struct {
	dispatcher *Dispatcher
	store      *storage.Store
	classifier *fakeClassifier
	recorder   *fakeRecorder
	language   *fakeLanguage
}

func newTestEnv(t *testing.T, handlers []handler.Handler, classified intent.Result) *testEnv {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fallback := &fakeHandler{
		name:  "general_support",
		label: intent.GeneralSupport,
		fn: func(_ context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			return handler.Result{Reply: "how can I help?"}, nil
		},
	}
	registry := handler.NewRegistry(fallback)
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	classifier := &fakeClassifier{result: classified}
	recorder := &fakeRecorder{}
	lang := &fakeLanguage{lang: "en"}

	d := New(Options{
		Store:           store,
		Language:        lang,
		Classify:        classifier,
		Registry:        registry,
		Breakers:        NewBreakers(3, 30*time.Second),
		Locker:          session.NewLocker(),
		Recorder:        recorder,
		RequestTimeout:  5 * time.Second,
		LockWait:        50 * time.Millisecond,
		ContinuationTTL: 10 * time.Minute,
		MaxTurns:        100,
	})

	return &testEnv{dispatcher: d, store: store, classifier: classifier, recorder: recorder, language: lang}
}

func TestHandleAnonymousGeneralSupport(t *testing.T) {
	env := newTestEnv(t, nil, intent.Result{Label: intent.GeneralSupport, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAnonymous, "", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(sess.ID, "anon:") {
		t.Errorf("anonymous session id = %q, want anon: prefix", sess.ID)
	}

	reply, err := env.dispatcher.Handle(ctx, Request{
		SessionID: sess.ID,
		UserID:    sess.ID,
		Anonymous: true,
		Message:   "hello, I need help",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Text != "how can I help?" {
		t.Errorf("Reply.Text = %q", reply.Text)
	}
	if reply.Intent != string(intent.GeneralSupport) || reply.Handler != "general_support" {
		t.Errorf("Reply routing = %s/%s", reply.Intent, reply.Handler)
	}
	if reply.State != session.StateCompleted {
		t.Errorf("Reply.State = %s, want COMPLETED", reply.State)
	}

	saved, err := env.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if saved.State != session.StateCompleted || saved.TurnCount != 1 {
		t.Errorf("saved session state=%s turns=%d", saved.State, saved.TurnCount)
	}

	turns, err := env.store.ListTurns(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Seq != 1 {
		t.Fatalf("turns = %+v", turns)
	}

	env.recorder.mu.Lock()
	defer env.recorder.mu.Unlock()
	if len(env.recorder.events) != 1 || env.recorder.events[0].Outcome != "ok" {
		t.Errorf("telemetry = %+v", env.recorder.events)
	}
}

func TestHandleContinuationBypassesClassification(t *testing.T) {
	otp := &fakeHandler{
		name:  "profile_update",
		label: intent.UserProfileUpdate,
		fn: func(_ context.Context, hctx *handler.Context, input string) (handler.Result, error) {
			if len(hctx.Continuation) == 0 {
				return handler.Result{
					Reply:        "enter the code I sent you",
					Followup:     true,
					Continuation: json.RawMessage(`{"stage":"verify"}`),
				}, nil
			}
			if input != "123456" {
				t.Errorf("continuation turn input = %q", input)
			}
			return handler.Result{Reply: "your number is updated"}, nil
		},
	}
	env := newTestEnv(t, []handler.Handler{otp},
		intent.Result{Label: intent.UserProfileUpdate, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-7", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-7", Message: "change my mobile to 9876501234"})
	if err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if first.State != session.StateAwaitingContinuation {
		t.Fatalf("state after followup = %s", first.State)
	}

	second, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-7", Message: "123456"})
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if second.Text != "your number is updated" {
		t.Errorf("second reply = %q", second.Text)
	}
	if second.State != session.StateCompleted {
		t.Errorf("state after continuation = %s", second.State)
	}
	if env.classifier.calls != 1 {
		t.Errorf("classifier called %d times, want 1 (continuation bypasses)", env.classifier.calls)
	}
	if otp.callCount() != 2 {
		t.Errorf("handler called %d times, want 2", otp.callCount())
	}

	saved, _ := env.store.GetSession(ctx, sess.ID)
	if saved.ActiveHandler != "" || saved.Continuation != nil {
		t.Errorf("continuation not cleared: %+v", saved)
	}
}

func TestHandleDegradedTranslationReachesClassifier(t *testing.T) {
	env := newTestEnv(t, nil, intent.Result{Label: intent.GeneralSupport, Confidence: 0.7, Source: "rules"})
	env.language.lang = "hi"
	env.language.degraded = true
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-hi", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-hi", Message: "मेरा प्रमाणपत्र कहाँ है"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !reply.Degraded {
		t.Error("Reply.Degraded = false, want true")
	}
	if len(env.classifier.degraded) != 1 || !env.classifier.degraded[0] {
		t.Errorf("classifier degraded flags = %v, want [true]", env.classifier.degraded)
	}

	turns, _ := env.store.ListTurns(ctx, sess.ID, 10)
	if len(turns) != 1 || !turns[0].DegradedTranslation {
		t.Errorf("turn not marked degraded: %+v", turns)
	}
	if turns[0].DetectedLang != "hi" {
		t.Errorf("DetectedLang = %q, want hi", turns[0].DetectedLang)
	}
}

func TestHandleBreakerOpensAfterRepeatedFailures(t *testing.T) {
	failing := &fakeHandler{
		name:  "ticket",
		label: intent.TicketCreation,
		fn: func(_ context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			return handler.Result{}, context.DeadlineExceeded
		},
	}
	env := newTestEnv(t, []handler.Handler{failing},
		intent.Result{Label: intent.TicketCreation, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-t", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Turn 1: attempt + retry, both fail. Turn 2: first attempt trips the
	// breaker open, retry is refused.
	for i := 0; i < 2; i++ {
		reply, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-t", Message: "raise a ticket"})
		if err != nil {
			t.Fatalf("Handle %d: %v", i+1, err)
		}
		if reply.Text == "" {
			t.Errorf("turn %d: empty fallback reply", i+1)
		}
	}
	if got := failing.callCount(); got != 3 {
		t.Fatalf("handler calls = %d, want 3 (2 + 1 before breaker opened)", got)
	}

	// Turn 3: breaker open, handler never invoked.
	reply, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-t", Message: "raise a ticket"})
	if err != nil {
		t.Fatalf("Handle with open breaker: %v", err)
	}
	if failing.callCount() != 3 {
		t.Errorf("handler called while breaker open")
	}
	if reply.Text == "" {
		t.Error("no fallback reply while breaker open")
	}

	turns, _ := env.store.ListTurns(ctx, sess.ID, 10)
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[2].ErrorKind != "breaker_open" {
		t.Errorf("turn 3 ErrorKind = %q, want breaker_open", turns[2].ErrorKind)
	}
}

func TestHandleRejectsForeignSession(t *testing.T) {
	otp := &fakeHandler{
		name:  "profile_update",
		label: intent.UserProfileUpdate,
		fn: func(_ context.Context, hctx *handler.Context, _ string) (handler.Result, error) {
			if len(hctx.Continuation) == 0 {
				return handler.Result{
					Reply:        "enter the code I sent you",
					Followup:     true,
					Continuation: json.RawMessage(`{"stage":"verify"}`),
				}, nil
			}
			return handler.Result{Reply: "your number is updated"}, nil
		},
	}
	env := newTestEnv(t, []handler.Handler{otp},
		intent.Result{Label: intent.UserProfileUpdate, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "alice", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "alice", Message: "change my mobile to 9876501234"})
	if err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if first.State != session.StateAwaitingContinuation {
		t.Fatalf("state after followup = %s", first.State)
	}

	// Another user cannot read the session or feed the pending
	// verification, and the rejection reads like a missing session.
	_, err = env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "mallory", Message: "123456"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign Handle = %v, want ErrSessionNotFound", err)
	}
	if otp.callCount() != 1 {
		t.Errorf("handler ran for a foreign user (%d calls)", otp.callCount())
	}
	saved, err := env.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if saved.TurnCount != 1 || saved.State != session.StateAwaitingContinuation {
		t.Errorf("foreign attempt changed the session: %+v", saved)
	}

	// The owner's continuation still works.
	second, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "alice", Message: "123456"})
	if err != nil {
		t.Fatalf("owner Handle: %v", err)
	}
	if second.Text != "your number is updated" {
		t.Errorf("owner reply = %q", second.Text)
	}
}

func TestHandleRejectsCrossNamespace(t *testing.T) {
	env := newTestEnv(t, nil, intent.Result{Label: intent.GeneralSupport, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	anon, err := env.dispatcher.Start(ctx, session.NamespaceAnonymous, "", "web")
	if err != nil {
		t.Fatalf("anonymous Start: %v", err)
	}
	auth, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-x", "web")
	if err != nil {
		t.Fatalf("authenticated Start: %v", err)
	}

	_, err = env.dispatcher.Handle(ctx, Request{SessionID: auth.ID, UserID: auth.ID, Anonymous: true, Message: "hi"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("anonymous caller on authenticated session = %v, want ErrSessionNotFound", err)
	}
	_, err = env.dispatcher.Handle(ctx, Request{SessionID: anon.ID, UserID: "user-x", Message: "hi"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("authenticated caller on anonymous session = %v, want ErrSessionNotFound", err)
	}
}

type conflictStore struct {
	SessionStore
	mu       sync.Mutex
	conflict bool
}

func (c *conflictStore) setConflict(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflict = v
}

func (c *conflictStore) UpdateSessionCAS(ctx context.Context, sess *session.Session) error {
	c.mu.Lock()
	conflict := c.conflict
	c.mu.Unlock()
	if conflict {
		return storage.ErrVersionConflict
	}
	return c.SessionStore.UpdateSessionCAS(ctx, sess)
}

func TestHandleVersionConflictRejectsTurn(t *testing.T) {
	base, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { base.Close() })
	cs := &conflictStore{SessionStore: base}

	fallback := &fakeHandler{
		name:  "general_support",
		label: intent.GeneralSupport,
		fn: func(_ context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			return handler.Result{Reply: "how can I help?"}, nil
		},
	}
	d := New(Options{
		Store:           cs,
		Language:        &fakeLanguage{lang: "en"},
		Classify:        &fakeClassifier{result: intent.Result{Label: intent.GeneralSupport, Confidence: 0.9, Source: "model"}},
		Registry:        handler.NewRegistry(fallback),
		Breakers:        NewBreakers(3, 30*time.Second),
		Locker:          session.NewLocker(),
		Recorder:        &fakeRecorder{},
		RequestTimeout:  5 * time.Second,
		LockWait:        50 * time.Millisecond,
		ContinuationTTL: 10 * time.Minute,
		MaxTurns:        100,
	})
	ctx := context.Background()

	sess, err := d.Start(ctx, session.NamespaceAuthenticated, "user-v", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A lost version race rejects the turn; the winner's write stands and
	// the session stays usable.
	cs.setConflict(true)
	_, err = d.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-v", Message: "hello"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Handle under conflict = %v, want ErrConflict", err)
	}

	saved, err := base.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if saved.State == session.StateFailedTerminal {
		t.Error("version conflict marked the session terminal")
	}
	if saved.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0", saved.TurnCount)
	}
	turns, err := base.ListTurns(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("conflicted turn was appended: %+v", turns)
	}

	cs.setConflict(false)
	reply, err := d.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-v", Message: "hello again"})
	if err != nil {
		t.Fatalf("Handle after conflict cleared: %v", err)
	}
	if reply.Text != "how can I help?" {
		t.Errorf("reply after conflict = %q", reply.Text)
	}
}

func TestBreakerKeyedByCollaborator(t *testing.T) {
	ticket := &fakeHandler{
		name:  "ticket",
		label: intent.TicketCreation,
		deps:  []string{"ticketing", "profile"},
		fn: func(_ context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			return handler.Result{}, profile.ErrUnavailable
		},
	}
	profileInfo := &fakeHandler{
		name:  "profile_info",
		label: intent.UserProfileInfo,
		deps:  []string{"profile"},
		fn: func(_ context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			return handler.Result{Reply: "here is your profile"}, nil
		},
	}
	escalate := &fakeHandler{
		name:  "certificate",
		label: intent.CertificateIssues,
		deps:  []string{"ticketing"},
		fn: func(_ context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			return handler.Result{Reply: "escalated"}, nil
		},
	}
	env := newTestEnv(t, []handler.Handler{ticket, profileInfo, escalate},
		intent.Result{Label: intent.TicketCreation, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-k", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Two turns of profile outages open the profile breaker.
	for i := 0; i < 2; i++ {
		if _, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-k", Message: "raise a ticket"}); err != nil {
			t.Fatalf("Handle %d: %v", i+1, err)
		}
	}
	if got := ticket.callCount(); got != 3 {
		t.Fatalf("ticket handler calls = %d, want 3", got)
	}

	// Any handler that needs the profile service is refused without a call.
	env.classifier.setResult(intent.Result{Label: intent.UserProfileInfo, Confidence: 0.9, Source: "model"})
	if _, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-k", Message: "show my profile"}); err != nil {
		t.Fatalf("profile Handle: %v", err)
	}
	if profileInfo.callCount() != 0 {
		t.Errorf("profile handler ran while its collaborator's breaker was open")
	}

	// The ticketing service took no blame and still serves.
	env.classifier.setResult(intent.Result{Label: intent.CertificateIssues, Confidence: 0.9, Source: "model"})
	reply, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-k", Message: "escalate my certificate problem"})
	if err != nil {
		t.Fatalf("escalation Handle: %v", err)
	}
	if escalate.callCount() != 1 || reply.Text != "escalated" {
		t.Errorf("escalation = %d calls, reply %q", escalate.callCount(), reply.Text)
	}

	turns, _ := env.store.ListTurns(ctx, sess.ID, 10)
	if len(turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(turns))
	}
	if turns[2].ErrorKind != "breaker_open" {
		t.Errorf("refused turn ErrorKind = %q, want breaker_open", turns[2].ErrorKind)
	}
	if turns[3].ErrorKind != "" {
		t.Errorf("escalation turn ErrorKind = %q, want empty", turns[3].ErrorKind)
	}
}

func TestHandleSessionBusy(t *testing.T) {
	blocker := make(chan struct{})
	slow := &fakeHandler{
		name:  "slow",
		label: intent.CourseProgressIssues,
		fn: func(ctx context.Context, _ *handler.Context, _ string) (handler.Result, error) {
			<-blocker
			return handler.Result{Reply: "done"}, nil
		},
	}
	env := newTestEnv(t, []handler.Handler{slow},
		intent.Result{Label: intent.CourseProgressIssues, Confidence: 0.9, Source: "model"})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-b", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-b", Message: "first"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	_, err = env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-b", Message: "second"})
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("concurrent Handle = %v, want ErrSessionBusy", err)
	}

	close(blocker)
	if err := <-done; err != nil {
		t.Fatalf("first Handle: %v", err)
	}
}

func TestHandleUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil, intent.Result{Label: intent.GeneralSupport, Confidence: 0.9})

	_, err := env.dispatcher.Handle(context.Background(), Request{SessionID: "missing", UserID: "u", Message: "hi"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Handle(missing) = %v, want ErrSessionNotFound", err)
	}
}

func TestHandleTurnLimit(t *testing.T) {
	env := newTestEnv(t, nil, intent.Result{Label: intent.GeneralSupport, Confidence: 0.9})
	ctx := context.Background()

	sess, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-l", "web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.TurnCount = 100
	if err := env.store.UpdateSessionCAS(ctx, sess); err != nil {
		t.Fatalf("UpdateSessionCAS: %v", err)
	}

	_, err = env.dispatcher.Handle(ctx, Request{SessionID: sess.ID, UserID: "user-l", Message: "one more"})
	if !errors.Is(err, ErrTurnLimit) {
		t.Errorf("Handle at limit = %v, want ErrTurnLimit", err)
	}
}

func TestStartReusesRecentAuthenticatedSession(t *testing.T) {
	env := newTestEnv(t, nil, intent.Result{Label: intent.GeneralSupport, Confidence: 0.9})
	ctx := context.Background()

	first, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-r", "web")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := env.dispatcher.Start(ctx, session.NamespaceAuthenticated, "user-r", "web")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Start minted a new session (%s then %s), want reuse", first.ID, second.ID)
	}

	// Anonymous starts never reuse.
	a1, _ := env.dispatcher.Start(ctx, session.NamespaceAnonymous, "", "web")
	a2, _ := env.dispatcher.Start(ctx, session.NamespaceAnonymous, "", "web")
	if a1.ID == a2.ID {
		t.Error("anonymous Start reused a session")
	}
}

func TestTransient(t *testing.T) {
	if !Transient(context.DeadlineExceeded) {
		t.Error("deadline not transient")
	}
	if !Transient(kb.ErrUnavailable) {
		t.Error("kb outage not transient")
	}
	if Transient(context.Canceled) {
		t.Error("cancellation treated as transient")
	}
	if Transient(errors.New("bad input")) {
		t.Error("generic error treated as transient")
	}
	if Transient(nil) {
		t.Error("nil error treated as transient")
	}
}

func TestCollaboratorFor(t *testing.T) {
	name, ok := collaboratorFor(profile.ErrUnavailable)
	if !ok || name != "profile" {
		t.Errorf("collaboratorFor(profile outage) = %q, %v", name, ok)
	}
	name, ok = collaboratorFor(kb.ErrUnavailable)
	if !ok || name != "kb" {
		t.Errorf("collaboratorFor(kb outage) = %q, %v", name, ok)
	}
	if _, ok := collaboratorFor(context.DeadlineExceeded); ok {
		t.Error("timeout attributed to a collaborator")
	}
	if _, ok := collaboratorFor(errors.New("bad input")); ok {
		t.Error("generic error attributed to a collaborator")
	}
}
