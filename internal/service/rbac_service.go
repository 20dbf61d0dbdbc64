package service

import "strings"

const (
	PermissionSessionsRefresh = "sessions:refresh"
	PermissionSessionsAdmin   = "sessions:admin"
	PermissionAuditRead       = "audit:read"
)

type RBACService struct{}

func NewRBACService() *RBACService {
	return &RBACService{}
}

// HasPermission accepts an exact grant, a resource wildcard such as "sessions:*", or "*".
func (s *RBACService) HasPermission(permissions []string, required string) bool {
	resource, _, _ := strings.Cut(required, ":")
	for _, p := range permissions {
		switch p {
		case required, "*", resource + ":*":
			return true
		}
	}
	return false
}
