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
	"github.com/sandeepkv93/idp-session-core/internal/security"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	RefreshStatusRotated       = "rotated"
	RefreshStatusReuseDetected = "reuse_detected"
	RefreshStatusTerminal      = "terminal"
	// RefreshStatusExpired is a current-secret match past the sliding or absolute deadline.
	RefreshStatusExpired = "expired"

	revokedReasonReuseDetected = "reuse_detected"
)

var ErrRotationContention = errors.New("refresh rotation lost too many concurrent races")

var tracer = otel.Tracer("idp-session-core/service")

type RefreshPolicy struct {
	Pepper         string
	SlidingWindow  time.Duration
	AbsoluteTTL    time.Duration
	AccessTokenTTL time.Duration
	MaxAttempts    int
	TombstoneTTL   time.Duration
}

type RefreshInput struct {
	UserID          string
	AuthorizationID string
	RefreshToken    string
	ClientIP        string
	UserAgent       string
}

// RefreshResult is the outcome of a refresh attempt. A nil result means the token was not
// recognised. Expiry fields are only set for a successful rotation.
type RefreshResult struct {
	AuthorizationID       string     `json:"authorization_id"`
	ReuseDetected         bool       `json:"reuse_detected"`
	SlidingExtended       bool       `json:"sliding_extended"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	Status                string     `json:"status"`
}

type IssueInput struct {
	UserID          string
	AuthorizationID string
	ClientIP        string
	UserAgent       string
}

type IssueResult struct {
	AuthorizationID       string    `json:"authorization_id"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	AbsoluteExpiresAt     time.Time `json:"absolute_expires_at"`
}

type RefreshRotationService struct {
	sessions   repository.UserSessionRepository
	tombstones SessionTombstoneStore
	listCache  SessionListCacheStore
	audit      AuditSink
	clock      Clock
	logger     *slog.Logger
	policy     RefreshPolicy
}

func NewRefreshRotationService(
	sessions repository.UserSessionRepository,
	tombstones SessionTombstoneStore,
	listCache SessionListCacheStore,
	audit AuditSink,
	clock Clock,
	logger *slog.Logger,
	policy RefreshPolicy,
) *RefreshRotationService {
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
	if policy.SlidingWindow <= 0 {
		policy.SlidingWindow = 30 * time.Minute
	}
	if policy.AbsoluteTTL <= 0 {
		policy.AbsoluteTTL = 8 * time.Hour
	}
	if policy.AccessTokenTTL <= 0 {
		policy.AccessTokenTTL = 15 * time.Minute
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &RefreshRotationService{
		sessions:   sessions,
		tombstones: tombstones,
		listCache:  listCache,
		audit:      audit,
		clock:      clock,
		logger:     logger,
		policy:     policy,
	}
}

// Issue creates the bookkeeping row for a freshly issued authorization and returns its first refresh secret.
func (s *RefreshRotationService) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	now := s.clock.Now().UTC()
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("mint refresh secret: %w", err)
	}
	absolute := now.Add(s.policy.AbsoluteTTL)
	session := &domain.UserSession{
		UserID:                  in.UserID,
		AuthorizationID:         in.AuthorizationID,
		CurrentRefreshTokenHash: security.HashRefreshToken(secret, s.policy.Pepper),
		AbsoluteExpiresUTC:      absolute,
		SlidingExpiresUTC:       capAt(now.Add(s.policy.SlidingWindow), absolute),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create user session: %w", err)
	}
	if err := s.listCache.InvalidateUser(ctx, in.UserID); err != nil {
		s.logger.WarnContext(ctx, "session list cache invalidation failed", "user_id", in.UserID, "error", err)
	}
	emitAudit(ctx, s.audit, s.logger, AuditEvent{
		EventType: domain.AuditSessionIssued,
		UserID:    in.UserID,
		IP:        in.ClientIP,
		UserAgent: in.UserAgent,
		Details: map[string]any{
			"authorizationId":    in.AuthorizationID,
			"absoluteExpiresUtc": absolute,
			"slidingExpiresUtc":  session.SlidingExpiresUTC,
		},
	})
	return &IssueResult{
		AuthorizationID:       in.AuthorizationID,
		RefreshToken:          secret,
		RefreshTokenExpiresAt: session.SlidingExpiresUTC,
		AbsoluteExpiresAt:     absolute,
	}, nil
}

// Refresh validates a presented refresh secret against the session chain and either rotates it,
// flags reuse of a superseded secret, or reports the chain as terminal. Rotation is a conditional
// write; a caller that loses the race re-reads and is classified against the winner's state.
func (s *RefreshRotationService) Refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "refresh_rotation.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("session.authorization_id", in.AuthorizationID))

	now := s.clock.Now().UTC()
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.AuthorizationID) == "" || in.RefreshToken == "" {
		observability.RecordRefreshOutcome(ctx, "invalid")
		return nil, nil
	}

	if s.isTombstoned(ctx, in.UserID, in.AuthorizationID) {
		observability.RecordRefreshOutcome(ctx, RefreshStatusTerminal)
		return terminalResult(in.AuthorizationID), nil
	}

	presented := security.HashRefreshToken(in.RefreshToken, s.policy.Pepper)
	for attempt := 1; ; attempt++ {
		session, err := s.sessions.FindByUserAndAuthorization(ctx, in.UserID, in.AuthorizationID)
		if errors.Is(err, repository.ErrUserSessionNotFound) {
			observability.RecordRefreshOutcome(ctx, "not_found")
			return nil, nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load session")
			return nil, fmt.Errorf("load user session: %w", err)
		}

		if session.IsRevoked() {
			s.markTombstoned(ctx, in.UserID, in.AuthorizationID)
			observability.RecordRefreshOutcome(ctx, RefreshStatusTerminal)
			return terminalResult(in.AuthorizationID), nil
		}

		switch {
		case security.HashEqual(presented, session.CurrentRefreshTokenHash):
			result, err := s.rotate(ctx, session, in, now)
			if errors.Is(err, repository.ErrRotationConflict) {
				if attempt < s.policy.MaxAttempts {
					s.logger.DebugContext(ctx, "refresh rotation conflict, re-reading session",
						"user_id", in.UserID, "authorization_id", in.AuthorizationID, "attempt", attempt)
					continue
				}
				observability.RecordRefreshOutcome(ctx, "contention")
				return nil, ErrRotationContention
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "rotate session")
				return nil, err
			}
			return result, nil
		case session.PreviousRefreshTokenHash != nil && security.HashEqual(presented, *session.PreviousRefreshTokenHash):
			return s.handleReuse(ctx, in, now)
		default:
			observability.RecordRefreshOutcome(ctx, "invalid")
			return nil, nil
		}
	}
}

func (s *RefreshRotationService) rotate(ctx context.Context, session *domain.UserSession, in RefreshInput, now time.Time) (*RefreshResult, error) {
	if !now.Before(session.SlidingExpiresUTC) || !now.Before(session.AbsoluteExpiresUTC) {
		observability.RecordRefreshOutcome(ctx, RefreshStatusExpired)
		return &RefreshResult{AuthorizationID: session.AuthorizationID, Status: RefreshStatusExpired}, nil
	}

	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("mint refresh secret: %w", err)
	}
	newSliding := capAt(now.Add(s.policy.SlidingWindow), session.AbsoluteExpiresUTC)
	err = s.sessions.CompareAndSwapRotation(ctx, repository.RotationUpdate{
		UserID:              session.UserID,
		AuthorizationID:     session.AuthorizationID,
		ExpectedCurrentHash: session.CurrentRefreshTokenHash,
		NewCurrentHash:      security.HashRefreshToken(secret, s.policy.Pepper),
		SlidingExpiresUTC:   newSliding,
	})
	if err != nil {
		if errors.Is(err, repository.ErrRotationConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("rotate user session: %w", err)
	}

	extensionCount := session.SlidingExtensionCount + 1
	moved := newSliding.After(session.SlidingExpiresUTC)
	emitAudit(ctx, s.audit, s.logger, AuditEvent{
		EventType: domain.AuditRefreshTokenRotated,
		UserID:    in.UserID,
		IP:        in.ClientIP,
		UserAgent: in.UserAgent,
		Details: map[string]any{
			"ip":                    in.ClientIP,
			"userAgent":             in.UserAgent,
			"authorizationId":       in.AuthorizationID,
			"slidingExtensionCount": extensionCount,
		},
	})
	if moved {
		observability.RecordSlidingExtension(ctx, extensionCount)
		emitAudit(ctx, s.audit, s.logger, AuditEvent{
			EventType: domain.AuditSlidingExpirationExtended,
			UserID:    in.UserID,
			IP:        in.ClientIP,
			UserAgent: in.UserAgent,
			Details: map[string]any{
				"ip":                        in.ClientIP,
				"userAgent":                 in.UserAgent,
				"authorizationId":           in.AuthorizationID,
				"previousSlidingExpiresUtc": session.SlidingExpiresUTC.UTC(),
				"slidingExpiresUtc":         newSliding,
				"absoluteExpiresUtc":        session.AbsoluteExpiresUTC.UTC(),
			},
		})
	}

	refreshExpiresAt := newSliding.UTC()
	accessExpiresAt := capAt(now.Add(s.policy.AccessTokenTTL), refreshExpiresAt)
	observability.RecordRefreshOutcome(ctx, RefreshStatusRotated)
	return &RefreshResult{
		AuthorizationID:       in.AuthorizationID,
		SlidingExtended:       true,
		AccessTokenExpiresAt:  &accessExpiresAt,
		RefreshTokenExpiresAt: &refreshExpiresAt,
		RefreshToken:          secret,
		Status:                RefreshStatusRotated,
	}, nil
}

func (s *RefreshRotationService) handleReuse(ctx context.Context, in RefreshInput, now time.Time) (*RefreshResult, error) {
	changed, err := s.sessions.MarkRevoked(ctx, in.UserID, in.AuthorizationID, revokedReasonReuseDetected, now, true)
	if err != nil {
		return nil, fmt.Errorf("tombstone reused session: %w", err)
	}
	s.markTombstoned(ctx, in.UserID, in.AuthorizationID)
	if !changed {
		// A concurrent caller already ended the chain and owns the audit record.
		observability.RecordRefreshOutcome(ctx, RefreshStatusTerminal)
		return terminalResult(in.AuthorizationID), nil
	}
	if err := s.listCache.InvalidateUser(ctx, in.UserID); err != nil {
		s.logger.WarnContext(ctx, "session list cache invalidation failed", "user_id", in.UserID, "error", err)
	}

	s.logger.WarnContext(ctx, "refresh token reuse detected",
		"user_id", in.UserID,
		"authorization_id", in.AuthorizationID,
		"ip", in.ClientIP,
	)
	emitAudit(ctx, s.audit, s.logger, AuditEvent{
		EventType: domain.AuditRefreshTokenReuseDetected,
		UserID:    in.UserID,
		IP:        in.ClientIP,
		UserAgent: in.UserAgent,
		Details: map[string]any{
			"ip":              in.ClientIP,
			"userAgent":       in.UserAgent,
			"authorizationId": in.AuthorizationID,
		},
	})
	observability.RecordRefreshOutcome(ctx, RefreshStatusReuseDetected)
	return &RefreshResult{
		AuthorizationID: in.AuthorizationID,
		ReuseDetected:   true,
		Status:          RefreshStatusReuseDetected,
	}, nil
}

func (s *RefreshRotationService) isTombstoned(ctx context.Context, userID, authorizationID string) bool {
	hit, err := s.tombstones.IsTombstoned(ctx, userID, authorizationID)
	if err != nil {
		observability.RecordSessionCacheEvent(ctx, "tombstone", "error")
		s.logger.WarnContext(ctx, "session tombstone lookup failed", "user_id", userID, "error", err)
		return false
	}
	if hit {
		observability.RecordSessionCacheEvent(ctx, "tombstone", "hit")
	} else {
		observability.RecordSessionCacheEvent(ctx, "tombstone", "miss")
	}
	return hit
}

func (s *RefreshRotationService) markTombstoned(ctx context.Context, userID, authorizationID string) {
	if err := s.tombstones.MarkTombstoned(ctx, userID, authorizationID, s.policy.TombstoneTTL); err != nil {
		s.logger.WarnContext(ctx, "session tombstone write failed", "user_id", userID, "error", err)
	}
}

func terminalResult(authorizationID string) *RefreshResult {
	return &RefreshResult{AuthorizationID: authorizationID, Status: RefreshStatusTerminal}
}

func capAt(t, limit time.Time) time.Time {
	if t.After(limit) {
		return limit
	}
	return t
}
