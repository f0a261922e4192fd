// Package feedback records user reactions to assistant replies.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/karmayogi/saarthi/internal/storage"
)

// ErrInvalidKind rejects feedback kinds outside the known set.
var ErrInvalidKind = errors.New("invalid feedback kind")

// ErrUnknownMessage rejects feedback for a turn that does not exist.
var ErrUnknownMessage = errors.New("unknown message id")

const (
	KindUpvote   = "upvote"
	KindDownvote = "downvote"
)

// Store is the slice of the storage layer the service needs.
type Store interface {
	UpsertFeedback(ctx context.Context, rec storage.FeedbackRecord) (bool, error)
	TurnExists(ctx context.Context, turnID string) (bool, error)
}

// Service validates and persists feedback. Submissions are idempotent by
// message id: resubmitting overwrites the previous reaction.
type Service struct {
	store Store
}

// NewService creates a feedback service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Submit records feedback for a turn. It returns "created" for a first
// submission and "updated" when an earlier reaction was replaced.
func (s *Service) Submit(ctx context.Context, messageID, sessionID, kind, comment string) (string, error) {
	if kind != KindUpvote && kind != KindDownvote {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	ok, err := s.store.TurnExists(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("checking message: %w", err)
	}
	if !ok {
		return "", ErrUnknownMessage
	}

	created, err := s.store.UpsertFeedback(ctx, storage.FeedbackRecord{
		MessageID: messageID,
		SessionID: sessionID,
		Kind:      kind,
		Comment:   comment,
	})
	if err != nil {
		return "", fmt.Errorf("saving feedback: %w", err)
	}
	if created {
		return "created", nil
	}
	return "updated", nil
}
