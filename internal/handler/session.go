package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/auth"
)

// TokenValidator checks an API token and returns its subject.
// *auth.TokenService implements it.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// SessionHandler lets the browser page trade an API token for a cookie.
//
// WHY A COOKIE?
// The page streams runs with EventSource, which cannot send an
// Authorization header. An HttpOnly cookie rides along automatically and
// cannot be read by page scripts.
type SessionHandler struct {
	tokens TokenValidator
	logger *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(tokens TokenValidator, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{tokens: tokens, logger: logger}
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Subject string `json:"subject"`
}

// HandleCreate validates a token and stores it in the session cookie.
//
// HTTP: POST /auth/session
// REQUEST BODY: {"token": "<jwt minted by `agentcoder token`>"}
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, apperror.ValidationFailed("token", "token is required"))
		return
	}

	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("rejected session token", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("invalid or expired token"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("session started", slog.String("subject", subject))
	writeJSON(w, http.StatusOK, sessionResponse{Subject: subject})
}

// HandleDelete clears the session cookie.
//
// HTTP: DELETE /auth/session
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
