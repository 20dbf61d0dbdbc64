package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
)

// AuthorizationStore is the grant registry owned by the protocol engine.
type AuthorizationStore interface {
	FindByID(ctx context.Context, id string) (*domain.Authorization, error)
	// FindBySubject lists authorizations for a subject; an empty status matches any status.
	FindBySubject(ctx context.Context, subject, status string) ([]domain.Authorization, error)
	TryRevoke(ctx context.Context, authorization *domain.Authorization) (bool, error)
}

type TokenStore interface {
	RevokeByAuthorizationID(ctx context.Context, authorizationID string) (int64, error)
	FindNearestExpiration(ctx context.Context, authorizationID string) (*time.Time, error)
}

type ApplicationDirectory interface {
	FindByID(ctx context.Context, id string) (*domain.Application, error)
}

type AuditEvent struct {
	EventType string
	UserID    string
	Details   map[string]any
	IP        string
	UserAgent string
}

type AuditSink interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type RBACAuthorizer interface {
	HasPermission(permissions []string, required string) bool
}
