package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/idp-session-core/internal/health"
	"github.com/sandeepkv93/idp-session-core/internal/http/handler"
	"github.com/sandeepkv93/idp-session-core/internal/http/middleware"
	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

const (
	RoutePolicyRefresh    = "refresh"
	RoutePolicyAdminWrite = "admin_write"
)

// RouteRateLimitPolicies overrides the per-route limiter for a named policy.
type RouteRateLimitPolicies map[string]func(http.Handler) http.Handler

type GlobalRateLimiterFunc func(http.Handler) http.Handler

type Dependencies struct {
	SessionHandler           *handler.SessionHandler
	RefreshHandler           *handler.RefreshHandler
	AdminHandler             *handler.AdminHandler
	ConsentHandler           *handler.ConsentHandler
	RBACService              service.RBACAuthorizer
	TrustedSubjectHeader     string
	TrustedPermissionsHeader string
	APIRateLimitRPM          int
	RefreshRateLimitRPM      int
	GlobalRateLimiter        GlobalRateLimiterFunc
	RouteRateLimitPolicies   RouteRateLimitPolicies
	Readiness                *health.ProbeRunner
	EnableOTelHTTP           bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api", nil).Middleware())
	}

	refreshLimiter := routePolicy(dep, RoutePolicyRefresh, dep.RefreshRateLimitRPM)
	adminWriteLimiter := routePolicy(dep, RoutePolicyAdminWrite, dep.APIRateLimitRPM)
	trusted := middleware.TrustedSubject(dep.TrustedSubjectHeader, dep.TrustedPermissionsHeader)
	require := func(permission string) func(http.Handler) http.Handler {
		return middleware.RequirePermission(dep.RBACService, permission)
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyUnready, "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(trusted)

		r.Route("/me/sessions", func(r chi.Router) {
			r.Get("/", dep.SessionHandler.List)
			r.Delete("/{authorization_id}", dep.SessionHandler.Revoke)
			r.Post("/revoke-all", dep.SessionHandler.RevokeAll)
		})

		r.Route("/oauth", func(r chi.Router) {
			r.Use(require(service.PermissionSessionsRefresh))
			r.With(refreshLimiter).Post("/refresh-state", dep.RefreshHandler.Refresh)
			r.Post("/sessions", dep.RefreshHandler.Issue)
		})

		r.Post("/consent/classify", dep.ConsentHandler.Classify)

		r.Route("/admin", func(r chi.Router) {
			r.With(require(service.PermissionSessionsAdmin)).Get("/users/{user_id}/sessions", dep.AdminHandler.ListUserSessions)
			r.With(require(service.PermissionSessionsAdmin), adminWriteLimiter).Post("/users/{user_id}/sessions/revoke-all", dep.AdminHandler.RevokeAllUserSessions)
			r.With(require(service.PermissionSessionsAdmin), adminWriteLimiter).Post("/users/{user_id}/sessions/{authorization_id}/revoke-chain", dep.AdminHandler.RevokeChain)
			r.With(require(service.PermissionAuditRead)).Get("/audit-logs", dep.AdminHandler.ListAuditLogs)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func routePolicy(dep Dependencies, name string, rpm int) func(http.Handler) http.Handler {
	if mw, ok := dep.RouteRateLimitPolicies[name]; ok && mw != nil {
		return mw
	}
	keyFunc := middleware.SubjectOrIPKeyFunc(dep.TrustedSubjectHeader)
	return middleware.NewRateLimiter(rpm, time.Minute, name, keyFunc).Middleware()
}
