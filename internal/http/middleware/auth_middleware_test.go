package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrustedSubjectMissingHeaderReturnsUnauthorized(t *testing.T) {
	h := TrustedSubject("X-Authenticated-Subject", "X-Authenticated-Permissions")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/sessions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing subject, got %d", rr.Code)
	}
}

func TestTrustedSubjectPopulatesPrincipal(t *testing.T) {
	var got *Principal
	h := TrustedSubject("X-Authenticated-Subject", "X-Authenticated-Permissions")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/sessions", nil)
	req.Header.Set("X-Authenticated-Subject", " alice ")
	req.Header.Set("X-Authenticated-Permissions", "sessions:read, sessions:write")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got == nil || got.Subject != "alice" {
		t.Fatalf("unexpected principal: %+v", got)
	}
	if len(got.Permissions) != 2 || got.Permissions[0] != "sessions:read" || got.Permissions[1] != "sessions:write" {
		t.Fatalf("unexpected permissions: %#v", got.Permissions)
	}
}
