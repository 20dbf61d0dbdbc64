package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

type SessionManager interface {
	ListSessions(ctx context.Context, userID string) ([]service.SessionView, error)
	RevokeSession(ctx context.Context, userID, authorizationID string) (bool, error)
	RevokeAllSessions(ctx context.Context, userID string) (int, error)
}

// SessionHandler serves the signed-in user's own session list.
type SessionHandler struct {
	sessions SessionManager
}

func NewSessionHandler(sessions SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}
	views, err := h.sessions.ListSessions(r.Context(), subject)
	if err != nil {
		slog.ErrorContext(r.Context(), "list sessions failed", "user_id", subject, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to list sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}
	authorizationID := chi.URLParam(r, "authorization_id")
	revoked, err := h.sessions.RevokeSession(r.Context(), subject, authorizationID)
	if err != nil {
		slog.ErrorContext(r.Context(), "revoke session failed", "user_id", subject, "authorization_id", authorizationID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to revoke session", nil)
		return
	}
	if !revoked {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "session not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"authorization_id": authorizationID, "revoked": true})
}

func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}
	n, err := h.sessions.RevokeAllSessions(r.Context(), subject)
	if err != nil {
		slog.ErrorContext(r.Context(), "revoke all sessions failed", "user_id", subject, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to revoke sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked_count": n})
}
