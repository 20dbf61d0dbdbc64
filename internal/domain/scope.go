package domain

// ScopeSummary describes a scope offered to a client and whether consent to it is mandatory.
type ScopeSummary struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"is_required"`
}

// ScopeClassificationResult is computed per consent decision and never persisted.
type ScopeClassificationResult struct {
	Allowed        []string `json:"allowed"`
	Required       []string `json:"required"`
	Rejected       []string `json:"rejected"`
	IsPartialGrant bool     `json:"is_partial_grant"`
}
