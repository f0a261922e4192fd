package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
)

// ProfileUpdate drives the OTP-verified profile change flow. The flow
// spans multiple turns: collect the field and new value, send a one-time
// code to the user's registered contact, then apply the change once the
// code checks out. Pending state travels in the session continuation.
type ProfileUpdate struct {
	profiles ProfileService
}

// NewProfileUpdate creates the profile change handler.
func NewProfileUpdate(profiles ProfileService) *ProfileUpdate {
	return &ProfileUpdate{profiles: profiles}
}

func (h *ProfileUpdate) Name() string { return "profile_update" }

func (h *ProfileUpdate) Supports(label intent.Label) bool {
	return label == intent.UserProfileUpdate
}

func (h *ProfileUpdate) Budget() time.Duration { return 8 * time.Second }

func (h *ProfileUpdate) Dependencies() []string { return []string{"profile"} }

const maxOTPAttempts = 3

type updateState struct {
	Stage    string `json:"stage"` // "collect" or "verify"
	Field    string `json:"field"`
	Value    string `json:"value"`
	Contact  string `json:"contact"`
	Attempts int    `json:"attempts"`
}

var otpPattern = regexp.MustCompile(`\b\d{4,6}\b`)

func (h *ProfileUpdate) Handle(ctx context.Context, hctx *Context, input string) (Result, error) {
	if hctx.Anonymous {
		return Result{Reply: "Profile changes are only available after you sign in. Please log in and try again."}, nil
	}

	if len(hctx.Continuation) > 0 {
		var st updateState
		if err := json.Unmarshal(hctx.Continuation, &st); err == nil {
			switch st.Stage {
			case "verify":
				return h.verify(ctx, hctx, input, st)
			case "collect":
				return h.collect(ctx, hctx, input, st)
			}
		}
		// Unreadable state: restart the flow from the user's message.
	}

	field, value := parseUpdateRequest(input)
	return h.collect(ctx, hctx, input, updateState{Stage: "collect", Field: field, Value: value})
}

func (h *ProfileUpdate) collect(ctx context.Context, hctx *Context, input string, st updateState) (Result, error) {
	if st.Field == "" {
		st.Field, st.Value = parseUpdateRequest(input)
	} else if st.Value == "" {
		st.Value = strings.TrimSpace(input)
	}

	if st.Field == "" {
		return followup(st, "Which detail would you like to update: your name, email, or mobile number?")
	}
	if st.Value == "" {
		return followup(st, fmt.Sprintf("What should your new %s be?", fieldLabel(st.Field)))
	}

	p, err := h.profiles.GetProfile(ctx, hctx.UserID)
	if err != nil {
		return Result{}, err
	}
	st.Contact = p.Mobile
	if st.Contact == "" {
		st.Contact = p.PrimaryEmail
	}
	if st.Contact == "" {
		return Result{Reply: "Your account has no registered mobile number or email, so I cannot verify this change. Please contact support."}, nil
	}

	if err := h.profiles.SendOTP(ctx, st.Contact); err != nil {
		return Result{}, err
	}
	st.Stage = "verify"
	st.Attempts = 0
	return followup(st, fmt.Sprintf("I have sent a verification code to %s. Please enter it to confirm the change.", maskContact(st.Contact)))
}

func (h *ProfileUpdate) verify(ctx context.Context, hctx *Context, input string, st updateState) (Result, error) {
	code := otpPattern.FindString(input)
	if code == "" {
		st.Attempts++
		if st.Attempts >= maxOTPAttempts {
			return Result{Reply: "That does not look like a verification code. I have cancelled the update; you can start over whenever you like."}, nil
		}
		return followup(st, "Please enter the 4-6 digit verification code I sent you.")
	}

	ok, err := h.profiles.VerifyOTP(ctx, st.Contact, code)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		st.Attempts++
		if st.Attempts >= maxOTPAttempts {
			return Result{Reply: "The code did not match and you are out of attempts. I have cancelled the update; you can start over whenever you like."}, nil
		}
		return followup(st, fmt.Sprintf("That code did not match. Please try again (%d attempts left).", maxOTPAttempts-st.Attempts))
	}

	if err := h.profiles.UpdateField(ctx, hctx.UserID, st.Field, st.Value); err != nil {
		return Result{}, err
	}
	return Result{Reply: fmt.Sprintf("Done. Your %s has been updated to %s.", fieldLabel(st.Field), st.Value)}, nil
}

func followup(st updateState, reply string) (Result, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling update state: %w", err)
	}
	return Result{Reply: reply, Followup: true, Continuation: data}, nil
}

var fieldNames = map[string]string{
	"name":   "firstName",
	"email":  "primaryEmail",
	"mail":   "primaryEmail",
	"mobile": "mobile",
	"phone":  "mobile",
	"number": "mobile",
}

func fieldLabel(field string) string {
	switch field {
	case "primaryEmail":
		return "email"
	case "mobile":
		return "mobile number"
	case "firstName":
		return "name"
	}
	return field
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
var mobilePattern = regexp.MustCompile(`\b\d{10}\b`)

// parseUpdateRequest pulls the target field and, when present, the new
// value out of a free-form request like "change my email to x@y.com".
func parseUpdateRequest(input string) (field, value string) {
	lower := strings.ToLower(input)
	for word, f := range fieldNames {
		if strings.Contains(lower, word) {
			field = f
			break
		}
	}
	if v := emailPattern.FindString(input); v != "" {
		if field == "" || field == "primaryEmail" {
			return "primaryEmail", v
		}
	}
	if v := mobilePattern.FindString(input); v != "" {
		if field == "" || field == "mobile" {
			return "mobile", v
		}
	}
	return field, ""
}
