package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/idp-session-core/internal/http/response"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// Principal is the caller identity asserted by the fronting protocol layer.
type Principal struct {
	Subject     string
	Permissions []string
}

// TrustedSubject reads the caller identity from headers set by the authenticating gateway.
// The session core never sees bearer credentials itself.
func TrustedSubject(subjectHeader, permissionsHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := strings.TrimSpace(r.Header.Get(subjectHeader))
			if subject == "" {
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing authenticated subject", nil)
				return
			}
			p := &Principal{Subject: subject}
			if permissionsHeader != "" {
				p.Permissions = parsePermissions(r.Header.Get(permissionsHeader))
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok
}

func parsePermissions(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
