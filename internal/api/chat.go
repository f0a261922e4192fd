package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/karmayogi/saarthi/internal/dispatch"
	"github.com/karmayogi/saarthi/internal/session"
)

type chatRequest struct {
	ChannelID string `json:"channel_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type chatResponse struct {
	SessionID  string         `json:"session_id"`
	MessageID  string         `json:"message_id"`
	ReplyText  string         `json:"reply_text"`
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	State      string         `json:"state"`
	Degraded   bool           `json:"degraded_translation,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// handleStart begins (or resumes) an authenticated conversation and
// processes the first message in the same call.
func (a *app) handleStart(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		httpError(w, http.StatusUnauthorized, "authentication_error", "no identity")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := a.deps.Dispatcher.Start(r.Context(), session.NamespaceAuthenticated, ident.UserID, channelFor(req, ident))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting session: %v", err)
			return
		}
		sessionID = sess.ID
	}

	a.dispatchTurn(w, r, dispatch.Request{
		SessionID: sessionID,
		UserID:    ident.UserID,
		AuthToken: ident.Token,
		Message:   req.Text,
	})
}

func (a *app) handleSend(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		httpError(w, http.StatusUnauthorized, "authentication_error", "no identity")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	if req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
		return
	}
	if strings.HasPrefix(req.SessionID, "anon:") {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "anonymous sessions use the anonymous endpoints")
		return
	}

	a.dispatchTurn(w, r, dispatch.Request{
		SessionID: req.SessionID,
		UserID:    ident.UserID,
		AuthToken: ident.Token,
		Message:   req.Text,
	})
}

// handleAnonymousStart mints an anonymous session unless the caller
// presented one, then processes the first message. The minted id is
// echoed both in the body and the X-Anonymous-Id response header.
func (a *app) handleAnonymousStart(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	sessionID, ok := AnonymousID(r)
	if !ok {
		sess, err := a.deps.Dispatcher.Start(r.Context(), session.NamespaceAnonymous, "", channelFrom(r, req.ChannelID))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting session: %v", err)
			return
		}
		sessionID = sess.ID
	}
	w.Header().Set("X-Anonymous-Id", sessionID)

	a.dispatchTurn(w, r, dispatch.Request{
		SessionID: sessionID,
		UserID:    sessionID,
		Anonymous: true,
		Message:   req.Text,
	})
}

func (a *app) handleAnonymousSend(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		if id, ok := AnonymousID(r); ok {
			sessionID = id
		}
	}
	if !strings.HasPrefix(sessionID, "anon:") {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "missing or invalid anonymous session id")
		return
	}

	a.dispatchTurn(w, r, dispatch.Request{
		SessionID: sessionID,
		UserID:    sessionID,
		Anonymous: true,
		Message:   req.Text,
	})
}

func (a *app) dispatchTurn(w http.ResponseWriter, r *http.Request, req dispatch.Request) {
	reply, err := a.deps.Dispatcher.Handle(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrSessionBusy):
			httpError(w, http.StatusConflict, "session_busy", "another message is being processed for this session")
		case errors.Is(err, dispatch.ErrSessionNotFound):
			httpError(w, http.StatusNotFound, "not_found", "session not found or expired")
		case errors.Is(err, dispatch.ErrSessionTerminal):
			httpError(w, http.StatusConflict, "session_failed", "this session can no longer accept messages; start a new one")
		case errors.Is(err, dispatch.ErrTurnLimit):
			httpError(w, http.StatusConflict, "turn_limit", "this session reached its message limit; start a new one")
		case errors.Is(err, dispatch.ErrConflict):
			httpError(w, http.StatusConflict, "session_conflict", "the session changed while processing; send the message again")
		case errors.Is(err, dispatch.ErrStoreFailed):
			httpError(w, http.StatusServiceUnavailable, "api_error", "temporary storage failure, try again")
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "processing message: %v", err)
		}
		return
	}

	writeJSON(w, chatResponse{
		SessionID:  reply.SessionID,
		MessageID:  reply.TurnID,
		ReplyText:  reply.Text,
		Intent:     reply.Intent,
		Confidence: reply.Confidence,
		State:      string(reply.State),
		Degraded:   reply.Degraded,
		Data:       reply.Data,
	})
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return chatRequest{}, false
	}
	if strings.TrimSpace(req.Text) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return chatRequest{}, false
	}
	return req, true
}

func channelFor(req chatRequest, ident Identity) string {
	if ch := strings.TrimSpace(req.ChannelID); ch != "" {
		return ch
	}
	return ident.Channel
}

func channelFrom(r *http.Request, bodyChannel string) string {
	if ch := strings.TrimSpace(bodyChannel); ch != "" {
		return ch
	}
	if ch := strings.TrimSpace(r.Header.Get("X-Channel")); ch != "" {
		return ch
	}
	return "web"
}
