package handler

import (
	"net/http"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

type classifyRequest struct {
	Requested []string              `json:"requested"`
	Scope     string                `json:"scope"`
	Available []domain.ScopeSummary `json:"available"`
	Granted   []string              `json:"granted"`
}

type ConsentHandler struct{}

func NewConsentHandler() *ConsentHandler {
	return &ConsentHandler{}
}

// Classify accepts requested scopes either as a list or as a space-delimited "scope" string.
func (h *ConsentHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	requested := req.Requested
	if len(requested) == 0 && req.Scope != "" {
		requested = service.SplitScopes(req.Scope)
	}
	result := service.ClassifyScopes(requested, req.Available, req.Granted)
	observability.RecordScopeClassification(r.Context(), result.IsPartialGrant)
	response.JSON(w, r, http.StatusOK, result)
}
