package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sandeepkv93/idp-session-core/internal/http/middleware"
	"github.com/sandeepkv93/idp-session-core/internal/http/response"
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// subjectFromRequest writes a 401 and returns false when no principal was attached upstream.
func subjectFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || strings.TrimSpace(p.Subject) == "" {
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing auth context", nil)
		return "", false
	}
	return p.Subject, true
}
