package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
)

const DefaultChainRevocationReason = "chain_revoked"

// ErrAuthorizationRevokeRejected is returned when the authorization store declines to revoke a live
// authorization. The local session is left untouched so the revocation can be retried.
var ErrAuthorizationRevokeRejected = errors.New("authorization store rejected revocation")

type ChainRevocationResult struct {
	AuthorizationID string `json:"authorization_id"`
	TokensRevoked   int64  `json:"tokens_revoked"`
	AlreadyRevoked  bool   `json:"already_revoked"`
}

// ChainRevocationService ends a session chain for logout and incident response. The external
// authorization and its tokens are revoked before the local tombstone is written, so a retry after
// a partial failure still reaches the external store.
type ChainRevocationService struct {
	sessions       repository.UserSessionRepository
	authorizations AuthorizationStore
	tokens         TokenStore
	tombstones     SessionTombstoneStore
	listCache      SessionListCacheStore
	audit          AuditSink
	clock          Clock
	logger         *slog.Logger
	tombstoneTTL   time.Duration
}

func NewChainRevocationService(
	sessions repository.UserSessionRepository,
	authorizations AuthorizationStore,
	tokens TokenStore,
	tombstones SessionTombstoneStore,
	listCache SessionListCacheStore,
	audit AuditSink,
	clock Clock,
	logger *slog.Logger,
	tombstoneTTL time.Duration,
) *ChainRevocationService {
	if tombstones == nil {
		tombstones = NewNoopSessionTombstoneStore()
	}
	if listCache == nil {
		listCache = NewNoopSessionListCacheStore()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainRevocationService{
		sessions:       sessions,
		authorizations: authorizations,
		tokens:         tokens,
		tombstones:     tombstones,
		listCache:      listCache,
		audit:          audit,
		clock:          clock,
		logger:         logger,
		tombstoneTTL:   tombstoneTTL,
	}
}

// RevokeChain returns nil, nil when no session exists for the pair.
func (s *ChainRevocationService) RevokeChain(ctx context.Context, userID, authorizationID, reason string) (*ChainRevocationResult, error) {
	ctx, span := tracer.Start(ctx, "session.revoke_chain")
	defer span.End()

	now := s.clock.Now().UTC()
	if strings.TrimSpace(reason) == "" {
		reason = DefaultChainRevocationReason
	}

	session, err := s.sessions.FindByUserAndAuthorization(ctx, userID, authorizationID)
	if errors.Is(err, repository.ErrUserSessionNotFound) {
		observability.RecordSessionRevocation(ctx, "chain", "not_found", 0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user session: %w", err)
	}
	if session.IsRevoked() {
		observability.RecordSessionRevocation(ctx, "chain", "already_revoked", 0)
		return &ChainRevocationResult{AuthorizationID: authorizationID, AlreadyRevoked: true}, nil
	}

	tokensRevoked, err := s.revokeExternal(ctx, userID, authorizationID)
	if errors.Is(err, ErrAuthorizationRevokeRejected) {
		observability.RecordSessionRevocation(ctx, "chain", "rejected", 0)
		return nil, err
	}
	if err != nil {
		observability.RecordSessionRevocation(ctx, "chain", "error", 0)
		return nil, err
	}

	changed, err := s.sessions.MarkRevoked(ctx, userID, authorizationID, reason, now, false)
	if err != nil {
		observability.RecordSessionRevocation(ctx, "chain", "error", 0)
		return nil, fmt.Errorf("tombstone user session: %w", err)
	}
	if err := s.tombstones.MarkTombstoned(ctx, userID, authorizationID, s.tombstoneTTL); err != nil {
		s.logger.WarnContext(ctx, "session tombstone write failed", "user_id", userID, "error", err)
	}
	if !changed {
		observability.RecordSessionRevocation(ctx, "chain", "already_revoked", 0)
		return &ChainRevocationResult{AuthorizationID: authorizationID, TokensRevoked: tokensRevoked, AlreadyRevoked: true}, nil
	}
	if err := s.listCache.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "session list cache invalidation failed", "user_id", userID, "error", err)
	}

	emitAudit(ctx, s.audit, s.logger, AuditEvent{
		EventType: domain.AuditSessionChainRevoked,
		UserID:    userID,
		Details: map[string]any{
			"authorizationId": authorizationID,
			"reason":          reason,
			"tokensRevoked":   tokensRevoked,
		},
	})
	observability.RecordSessionRevocation(ctx, "chain", "revoked", 1)
	s.logger.InfoContext(ctx, "session chain revoked",
		"user_id", userID,
		"authorization_id", authorizationID,
		"reason", reason,
		"tokens_revoked", tokensRevoked,
	)
	return &ChainRevocationResult{AuthorizationID: authorizationID, TokensRevoked: tokensRevoked}, nil
}

func (s *ChainRevocationService) revokeExternal(ctx context.Context, userID, authorizationID string) (int64, error) {
	a, err := s.authorizations.FindByID(ctx, authorizationID)
	if err != nil {
		return 0, fmt.Errorf("find authorization: %w", err)
	}
	switch {
	case a == nil:
		s.logger.WarnContext(ctx, "authorization missing during chain revocation", "authorization_id", authorizationID)
	case !strings.EqualFold(a.Subject, userID):
		s.logger.WarnContext(ctx, "authorization subject mismatch during chain revocation",
			"user_id", userID, "authorization_id", authorizationID)
		return 0, nil
	default:
		ok, err := s.authorizations.TryRevoke(ctx, a)
		if err != nil {
			return 0, fmt.Errorf("revoke authorization: %w", err)
		}
		if !ok {
			s.logger.WarnContext(ctx, "authorization store rejected chain revocation",
				"user_id", userID, "authorization_id", authorizationID)
			return 0, ErrAuthorizationRevokeRejected
		}
	}
	n, err := s.tokens.RevokeByAuthorizationID(ctx, authorizationID)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	return n, nil
}
