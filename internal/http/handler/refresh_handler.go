package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/idp-session-core/internal/http/middleware"
	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

type RefreshEngine interface {
	Refresh(ctx context.Context, in service.RefreshInput) (*service.RefreshResult, error)
	Issue(ctx context.Context, in service.IssueInput) (*service.IssueResult, error)
}

type refreshRequest struct {
	AuthorizationID string `json:"authorization_id"`
	RefreshToken    string `json:"refresh_token"`
}

type issueRequest struct {
	AuthorizationID string `json:"authorization_id"`
}

// RefreshHandler is called by the token endpoint on the refresh_token grant. The subject is
// the one the protocol layer resolved from the authorization, not an end-user credential.
type RefreshHandler struct {
	engine RefreshEngine
}

func NewRefreshHandler(engine RefreshEngine) *RefreshHandler {
	return &RefreshHandler{engine: engine}
}

func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	if strings.TrimSpace(req.AuthorizationID) == "" || strings.TrimSpace(req.RefreshToken) == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "authorization_id and refresh_token are required", nil)
		return
	}

	res, err := h.engine.Refresh(r.Context(), service.RefreshInput{
		UserID:          subject,
		AuthorizationID: req.AuthorizationID,
		RefreshToken:    req.RefreshToken,
		ClientIP:        middleware.ClientIP(r),
		UserAgent:       r.UserAgent(),
	})
	switch {
	case errors.Is(err, service.ErrRotationContention):
		response.Error(w, r, http.StatusConflict, response.CodeConflict, "concurrent refresh in progress", nil)
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "refresh failed", "user_id", subject, "authorization_id", req.AuthorizationID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "refresh failed", nil)
		return
	case res == nil:
		response.Error(w, r, http.StatusUnauthorized, response.CodeInvalidGrant, "refresh token is invalid or expired", nil)
		return
	}

	switch res.Status {
	case service.RefreshStatusReuseDetected:
		response.Error(w, r, http.StatusUnauthorized, response.CodeRefreshTokenReused, "refresh token reuse detected; session revoked", res)
	case service.RefreshStatusTerminal:
		response.Error(w, r, http.StatusUnauthorized, response.CodeSessionRevoked, "session has been revoked", res)
	case service.RefreshStatusExpired:
		response.Error(w, r, http.StatusUnauthorized, response.CodeInvalidGrant, "session has expired", res)
	default:
		response.JSON(w, r, http.StatusOK, res)
	}
}

func (h *RefreshHandler) Issue(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromRequest(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.AuthorizationID) == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "authorization_id is required", nil)
		return
	}
	res, err := h.engine.Issue(r.Context(), service.IssueInput{
		UserID:          subject,
		AuthorizationID: req.AuthorizationID,
		ClientIP:        middleware.ClientIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "session issue failed", "user_id", subject, "authorization_id", req.AuthorizationID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to issue session", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, res)
}
