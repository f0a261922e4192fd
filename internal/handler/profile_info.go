package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/profile"
)

// ProfileInfo answers read-only questions about the caller's account.
type ProfileInfo struct {
	profiles ProfileService
}

// NewProfileInfo creates the profile lookup handler.
func NewProfileInfo(profiles ProfileService) *ProfileInfo {
	return &ProfileInfo{profiles: profiles}
}

func (h *ProfileInfo) Name() string { return "profile_info" }

func (h *ProfileInfo) Supports(label intent.Label) bool {
	return label == intent.UserProfileInfo
}

func (h *ProfileInfo) Budget() time.Duration { return 5 * time.Second }

func (h *ProfileInfo) Dependencies() []string { return []string{"profile"} }

func (h *ProfileInfo) Handle(ctx context.Context, hctx *Context, input string) (Result, error) {
	if hctx.Anonymous {
		return Result{Reply: "Profile details are only available after you sign in. Please log in and ask me again."}, nil
	}

	p, err := h.profiles.GetProfile(ctx, hctx.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return Result{Reply: "I could not find a profile for your account. Please contact your administrator if this seems wrong."}, nil
		}
		return Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are your profile details:\n\nName: %s %s\n", p.FirstName, p.LastName)
	if p.PrimaryEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", p.PrimaryEmail)
	}
	if p.Mobile != "" {
		fmt.Fprintf(&b, "Mobile: %s\n", maskContact(p.Mobile))
	}
	if p.Organisation != "" {
		fmt.Fprintf(&b, "Organisation: %s\n", p.Organisation)
	}
	if p.Designation != "" {
		fmt.Fprintf(&b, "Designation: %s\n", p.Designation)
	}
	fmt.Fprintf(&b, "Karma points: %d\n", p.KarmaPoints)
	b.WriteString("\nYou can ask me to update your name, email, or mobile number.")
	return Result{Reply: b.String()}, nil
}

// maskContact hides all but the last four characters of a contact value.
func maskContact(v string) string {
	if len(v) <= 4 {
		return v
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
