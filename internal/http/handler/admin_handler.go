package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

type ChainRevoker interface {
	RevokeChain(ctx context.Context, userID, authorizationID, reason string) (*service.ChainRevocationResult, error)
}

type AuditReader interface {
	ListPaged(ctx context.Context, query repository.AuditLogQuery) (repository.PageResult[domain.AuditLog], error)
}

type revokeChainRequest struct {
	Reason string `json:"reason"`
}

// AdminHandler exposes operator actions on any user's sessions.
type AdminHandler struct {
	sessions SessionManager
	chains   ChainRevoker
	audit    AuditReader
}

func NewAdminHandler(sessions SessionManager, chains ChainRevoker, audit AuditReader) *AdminHandler {
	return &AdminHandler{sessions: sessions, chains: chains, audit: audit}
}

func (h *AdminHandler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	views, err := h.sessions.ListSessions(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "admin list sessions failed", "user_id", userID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to list sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user_id": userID, "sessions": views})
}

func (h *AdminHandler) RevokeChain(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	authorizationID := chi.URLParam(r, "authorization_id")
	var req revokeChainRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
			return
		}
	}
	res, err := h.chains.RevokeChain(r.Context(), userID, authorizationID, req.Reason)
	if errors.Is(err, service.ErrAuthorizationRevokeRejected) {
		response.Error(w, r, http.StatusConflict, response.CodeConflict, "authorization store rejected revocation; retry", nil)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "revoke chain failed", "user_id", userID, "authorization_id", authorizationID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to revoke session chain", nil)
		return
	}
	if res == nil {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "session not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AdminHandler) RevokeAllUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	n, err := h.sessions.RevokeAllSessions(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "admin revoke all failed", "user_id", userID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to revoke sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user_id": userID, "revoked_count": n})
}

func (h *AdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parseOptionalInt(q.Get("page"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid page", nil)
		return
	}
	pageSize, err := parseOptionalInt(q.Get("page_size"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid page_size", nil)
		return
	}
	result, err := h.audit.ListPaged(r.Context(), repository.AuditLogQuery{
		PageRequest: repository.PageRequest{Page: page, PageSize: pageSize},
		UserID:      strings.TrimSpace(q.Get("user_id")),
		EventType:   strings.TrimSpace(q.Get("event_type")),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "list audit logs failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to list audit logs", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func parseOptionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
