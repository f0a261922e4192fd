package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/ticketing"
)

// Ticket raises support tickets on the user's behalf. Anonymous callers
// are asked for a contact address first; the request travels in the
// continuation until the ticket can be filed.
type Ticket struct {
	tickets  TicketService
	profiles ProfileService
}

// NewTicket creates the ticket creation handler.
func NewTicket(tickets TicketService, profiles ProfileService) *Ticket {
	return &Ticket{tickets: tickets, profiles: profiles}
}

func (h *Ticket) Name() string { return "ticket" }

func (h *Ticket) Supports(label intent.Label) bool {
	return label == intent.TicketCreation
}

func (h *Ticket) Budget() time.Duration { return 10 * time.Second }

func (h *Ticket) Dependencies() []string { return []string{"ticketing", "profile"} }

type ticketState struct {
	Description string `json:"description"`
}

func (h *Ticket) Handle(ctx context.Context, hctx *Context, input string) (Result, error) {
	description := strings.TrimSpace(input)
	contact := ""

	if len(hctx.Continuation) > 0 {
		var st ticketState
		if err := json.Unmarshal(hctx.Continuation, &st); err == nil && st.Description != "" {
			// Previous turn captured the issue; this one is the contact.
			description = st.Description
			contact = strings.TrimSpace(input)
		}
	}

	if hctx.Anonymous {
		if contact == "" {
			data, err := json.Marshal(ticketState{Description: description})
			if err != nil {
				return Result{}, fmt.Errorf("marshaling ticket state: %w", err)
			}
			return Result{
				Reply:        "I can raise a ticket for that. What email address or mobile number should our support team use to reach you?",
				Followup:     true,
				Continuation: data,
			}, nil
		}
	} else {
		p, err := h.profiles.GetProfile(ctx, hctx.UserID)
		if err != nil {
			return Result{}, err
		}
		contact = p.PrimaryEmail
		if contact == "" {
			contact = p.Mobile
		}
	}

	id, err := h.tickets.CreateTicket(ctx, ticketing.Fields{
		Subject:     subjectFor(description),
		Description: description,
		Contact:     contact,
		Channel:     hctx.Session.Channel,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Reply: fmt.Sprintf("Your support ticket has been created. Ticket ID: %s. Our team will get back to you shortly.", id),
		Data:  map[string]any{"ticket_id": id},
	}, nil
}

// subjectFor trims the description into a one-line subject.
func subjectFor(description string) string {
	s := strings.TrimSpace(description)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	if s == "" {
		s = "Support request"
	}
	return s
}
