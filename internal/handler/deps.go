package handler

import (
	"context"

	"github.com/karmayogi/saarthi/internal/kb"
	"github.com/karmayogi/saarthi/internal/profile"
	"github.com/karmayogi/saarthi/internal/ticketing"
)

// ProfileService is the slice of the profile collaborator handlers use.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (profile.Profile, error)
	GetEnrollments(ctx context.Context, userID string) ([]profile.Enrollment, error)
	SendOTP(ctx context.Context, contact string) error
	VerifyOTP(ctx context.Context, contact, code string) (bool, error)
	UpdateField(ctx context.Context, userID, field, value string) error
}

// TicketService creates and reads support tickets.
type TicketService interface {
	CreateTicket(ctx context.Context, fields ticketing.Fields) (string, error)
	GetTicket(ctx context.Context, id string) (ticketing.Ticket, error)
}

// KBSearcher retrieves help-content passages.
type KBSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]kb.Passage, error)
}
