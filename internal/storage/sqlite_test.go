package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/karmayogi/saarthi/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(id string) *session.Session {
	return session.New(id, session.NamespaceAuthenticated, "user-1", "web")
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s-1")
	sess.Language = "hi"
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != "user-1" || got.Channel != "web" || got.Language != "hi" {
		t.Errorf("GetSession = %+v, want user-1/web/hi", got)
	}
	if got.State != session.StateStarted {
		t.Errorf("State = %q, want %q", got.State, session.StateStarted)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, newTestSession("s-dup")); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}
	err := store.CreateSession(ctx, newTestSession("s-dup"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second CreateSession = %v, want ErrAlreadyExists", err)
	}
}

func TestUpdateSessionCAS(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s-cas")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess.State = session.StateCompleted
	sess.TurnCount = 1
	if err := store.UpdateSessionCAS(ctx, sess); err != nil {
		t.Fatalf("UpdateSessionCAS: %v", err)
	}
	if sess.Version != 2 {
		t.Errorf("Version after CAS = %d, want 2", sess.Version)
	}

	got, err := store.GetSession(ctx, "s-cas")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != session.StateCompleted || got.TurnCount != 1 || got.Version != 2 {
		t.Errorf("after CAS: state=%q turns=%d version=%d", got.State, got.TurnCount, got.Version)
	}
}

func TestUpdateSessionCASConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s-race")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Two writers load the same version; the second write must lose.
	stale := newTestSession("s-race")
	stale.Version = sess.Version

	sess.TurnCount = 1
	if err := store.UpdateSessionCAS(ctx, sess); err != nil {
		t.Fatalf("first CAS: %v", err)
	}

	stale.TurnCount = 99
	err := store.UpdateSessionCAS(ctx, stale)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale CAS = %v, want ErrVersionConflict", err)
	}

	got, _ := store.GetSession(ctx, "s-race")
	if got.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1 (stale write must not apply)", got.TurnCount)
	}
}

func TestUpdateSessionCASMissing(t *testing.T) {
	store := openTestStore(t)

	sess := newTestSession("s-gone")
	err := store.UpdateSessionCAS(context.Background(), sess)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CAS on missing session = %v, want ErrNotFound", err)
	}
}

func TestContinuationRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := newTestSession("s-cont")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess.State = session.StateAwaitingContinuation
	sess.SetContinuation("USER_PROFILE_UPDATE", "profile_update", []byte(`{"stage":"verify"}`))
	if err := store.UpdateSessionCAS(ctx, sess); err != nil {
		t.Fatalf("UpdateSessionCAS: %v", err)
	}

	got, err := store.GetSession(ctx, "s-cont")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ActiveHandler != "profile_update" {
		t.Errorf("ActiveHandler = %q, want profile_update", got.ActiveHandler)
	}
	if string(got.Continuation) != `{"stage":"verify"}` {
		t.Errorf("Continuation = %s", got.Continuation)
	}
	if got.ContinuationSet.IsZero() {
		t.Error("ContinuationSet is zero after round trip")
	}
}

func TestFindSessionByUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := newTestSession("s-old")
	old.LastActive = time.Now().UTC().Add(-time.Hour)
	if err := store.CreateSession(ctx, old); err != nil {
		t.Fatalf("CreateSession old: %v", err)
	}
	recent := newTestSession("s-new")
	if err := store.CreateSession(ctx, recent); err != nil {
		t.Fatalf("CreateSession recent: %v", err)
	}

	got, err := store.FindSessionByUser(ctx, session.NamespaceAuthenticated, "user-1", "web")
	if err != nil {
		t.Fatalf("FindSessionByUser: %v", err)
	}
	if got.ID != "s-new" {
		t.Errorf("FindSessionByUser = %q, want s-new", got.ID)
	}

	_, err = store.FindSessionByUser(ctx, session.NamespaceAuthenticated, "nobody", "web")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FindSessionByUser(nobody) = %v, want ErrNotFound", err)
	}
}

func TestExpireSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stale := newTestSession("s-stale")
	stale.LastActive = time.Now().UTC().Add(-2 * time.Hour)
	if err := store.CreateSession(ctx, stale); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}
	fresh := newTestSession("s-fresh")
	if err := store.CreateSession(ctx, fresh); err != nil {
		t.Fatalf("CreateSession fresh: %v", err)
	}

	n, err := store.ExpireSessions(ctx, session.NamespaceAuthenticated, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpireSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d sessions, want 1", n)
	}
	if _, err := store.GetSession(ctx, "s-stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session still present: %v", err)
	}
	if _, err := store.GetSession(ctx, "s-fresh"); err != nil {
		t.Errorf("fresh session gone: %v", err)
	}
}

func appendTestTurn(t *testing.T, store *Store, sessionID string, seq int) string {
	t.Helper()
	id := fmt.Sprintf("t-%s-%d", sessionID, seq)
	turn := &session.Turn{
		ID:             id,
		SessionID:      sessionID,
		Seq:            seq,
		Input:          fmt.Sprintf("message %d", seq),
		DetectedLang:   "en",
		CanonicalInput: fmt.Sprintf("message %d", seq),
		Intent:         "GENERAL_SUPPORT",
		Confidence:     0.8,
		Handler:        "general_support",
		Reply:          "ok",
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.AppendTurn(context.Background(), turn); err != nil {
		t.Fatalf("AppendTurn seq %d: %v", seq, err)
	}
	return id
}

func TestTurnsOrderedAndUnique(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, newTestSession("s-t")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	appendTestTurn(t, store, "s-t", 2)
	appendTestTurn(t, store, "s-t", 1)
	appendTestTurn(t, store, "s-t", 3)

	turns, err := store.ListTurns(ctx, "s-t", 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("ListTurns returned %d turns, want 3", len(turns))
	}
	for i, turn := range turns {
		if turn.Seq != i+1 {
			t.Errorf("turns[%d].Seq = %d, want %d", i, turn.Seq, i+1)
		}
	}

	// Duplicate (session, seq) must be rejected.
	dup := &session.Turn{ID: "t-dup", SessionID: "s-t", Seq: 1, CreatedAt: time.Now().UTC()}
	err = store.AppendTurn(ctx, dup)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate AppendTurn = %v, want ErrAlreadyExists", err)
	}
}

func TestTurnsCascadeWithSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, newTestSession("s-del")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	appendTestTurn(t, store, "s-del", 1)

	if err := store.ExpireSession(ctx, "s-del"); err != nil {
		t.Fatalf("ExpireSession: %v", err)
	}
	turns, err := store.ListTurns(ctx, "s-del", 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("turns survived session delete: %d", len(turns))
	}
}

func TestTurnExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, newTestSession("s-e")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := appendTestTurn(t, store, "s-e", 1)

	ok, err := store.TurnExists(ctx, id)
	if err != nil || !ok {
		t.Errorf("TurnExists(%s) = %v, %v, want true", id, ok, err)
	}
	ok, err = store.TurnExists(ctx, "nope")
	if err != nil || ok {
		t.Errorf("TurnExists(nope) = %v, %v, want false", ok, err)
	}
}

func TestUpsertFeedbackIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertFeedback(ctx, FeedbackRecord{
		MessageID: "m-1", SessionID: "s-1", Kind: "upvote",
	})
	if err != nil {
		t.Fatalf("first UpsertFeedback: %v", err)
	}
	if !created {
		t.Error("first upsert: created = false, want true")
	}

	time.Sleep(2 * time.Millisecond)

	created, err = store.UpsertFeedback(ctx, FeedbackRecord{
		MessageID: "m-1", SessionID: "s-1", Kind: "downvote", Comment: "changed my mind",
	})
	if err != nil {
		t.Fatalf("second UpsertFeedback: %v", err)
	}
	if created {
		t.Error("second upsert: created = true, want false")
	}

	rec, err := store.GetFeedback(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if rec.Kind != "downvote" || rec.Comment != "changed my mind" {
		t.Errorf("feedback = %+v, want overwritten downvote", rec)
	}

	n, err := store.CountFeedback(ctx)
	if err != nil {
		t.Fatalf("CountFeedback: %v", err)
	}
	if n != 1 {
		t.Errorf("CountFeedback = %d, want 1", n)
	}
}

func TestInsertTelemetry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.InsertTelemetry(ctx, TelemetryRow{
		TurnID:     "t-1",
		SessionID:  "s-1",
		Intent:     "GENERAL_SUPPORT",
		Handler:    "general_support",
		Outcome:    "ok",
		TotalMs:    42,
		StagesJSON: `{"total_ms":42}`,
	})
	if err != nil {
		t.Fatalf("InsertTelemetry: %v", err)
	}

	n, err := store.CountTelemetry(ctx)
	if err != nil {
		t.Fatalf("CountTelemetry: %v", err)
	}
	if n != 1 {
		t.Errorf("CountTelemetry = %d, want 1", n)
	}
}
