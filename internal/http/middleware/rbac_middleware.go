package middleware

import (
	"net/http"

	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

// RequirePermission gates a route on one permission of the trusted principal. Denials are written to the
// audit log so attempts against admin session routes leave a trace.
func RequirePermission(rbac service.RBACAuthorizer, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing auth context", nil)
				return
			}
			if !rbac.HasPermission(p.Permissions, permission) {
				observability.Audit(r.Context(), "permission_denied",
					"subject", p.Subject,
					"required", permission,
					"method", r.Method,
					"path", r.URL.Path,
				)
				response.Error(w, r, http.StatusForbidden, response.CodeForbidden, "insufficient permission", map[string]string{"required": permission})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
