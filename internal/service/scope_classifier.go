package service

import (
	"sort"
	"strings"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
)

// ClassifyScopes splits the requested scopes into allowed, required and rejected sets for a consent
// decision. Required scopes are always allowed. Optional scopes are allowed only when present in granted;
// a nil granted slice means no optional consent. Granted entries that were never requested are ignored.
// Requested scopes missing from available are rejected. Output slices are sorted and never nil.
func ClassifyScopes(requested []string, available []domain.ScopeSummary, granted []string) domain.ScopeClassificationResult {
	known := make(map[string]bool, len(available))
	for _, scope := range available {
		name := strings.TrimSpace(scope.Name)
		if name == "" {
			continue
		}
		known[name] = known[name] || scope.IsRequired
	}
	consented := make(map[string]struct{}, len(granted))
	for _, name := range granted {
		consented[strings.TrimSpace(name)] = struct{}{}
	}

	result := domain.ScopeClassificationResult{
		Allowed:  []string{},
		Required: []string{},
		Rejected: []string{},
	}
	seen := make(map[string]struct{}, len(requested))
	for _, raw := range requested {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		required, ok := known[name]
		switch {
		case ok && required:
			result.Required = append(result.Required, name)
			result.Allowed = append(result.Allowed, name)
		case ok:
			if _, yes := consented[name]; yes {
				result.Allowed = append(result.Allowed, name)
			} else {
				result.Rejected = append(result.Rejected, name)
			}
		default:
			result.Rejected = append(result.Rejected, name)
		}
	}

	sort.Strings(result.Allowed)
	sort.Strings(result.Required)
	sort.Strings(result.Rejected)
	result.IsPartialGrant = len(result.Rejected) > 0
	return result
}

// SplitScopes parses a space-delimited OAuth scope string.
func SplitScopes(raw string) []string {
	return strings.Fields(raw)
}
