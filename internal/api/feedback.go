package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/karmayogi/saarthi/internal/feedback"
)

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"feedback_type"`
	Comment   string `json:"feedback_comment"`
}

func (a *app) handleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.MessageID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message_id is required")
		return
	}

	action, err := a.deps.Feedback.Submit(r.Context(), req.MessageID, req.SessionID, req.Kind, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, feedback.ErrInvalidKind):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", feedback.KindUpvote, feedback.KindDownvote)
		case errors.Is(err, feedback.ErrUnknownMessage):
			httpError(w, http.StatusNotFound, "not_found", "no message with that id")
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "saving feedback: %v", err)
		}
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "action": action})
}
