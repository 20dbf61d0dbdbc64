package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type SessionView struct {
	AuthorizationID   string     `json:"authorization_id"`
	ClientID          *string    `json:"client_id"`
	ClientDisplayName *string    `json:"client_display_name"`
	CreatedAt         *time.Time `json:"created_at"`
	ExpiresAt         *time.Time `json:"expires_at"`
	Status            string     `json:"status"`
}

// SessionListPolicy tunes ListSessions. CacheTTL is zero by default, which reads the authorization
// store on every call; a positive TTL opts in to caching, so grants changed by the protocol layer may
// be reported stale for up to that long.
type SessionListPolicy struct {
	CacheTTL    time.Duration
	Concurrency int
}

// SessionService enumerates and revokes a user's grants as seen by the authorization store.
type SessionService struct {
	authorizations AuthorizationStore
	tokens         TokenStore
	applications   ApplicationDirectory
	listCache      SessionListCacheStore
	logger         *slog.Logger
	policy         SessionListPolicy
}

func NewSessionService(
	authorizations AuthorizationStore,
	tokens TokenStore,
	applications ApplicationDirectory,
	listCache SessionListCacheStore,
	logger *slog.Logger,
	policy SessionListPolicy,
) *SessionService {
	if listCache == nil {
		listCache = NewNoopSessionListCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Concurrency <= 0 {
		policy.Concurrency = 8
	}
	return &SessionService{
		authorizations: authorizations,
		tokens:         tokens,
		applications:   applications,
		listCache:      listCache,
		logger:         logger,
		policy:         policy,
	}
}

func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]SessionView, error) {
	ctx, span := tracer.Start(ctx, "session.list")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return []SessionView{}, nil
	}
	cacheEnabled := s.policy.CacheTTL > 0
	if cacheEnabled {
		if cached, ok, err := s.listCache.Get(ctx, userID); err != nil {
			observability.RecordSessionCacheEvent(ctx, "session_list", "error")
			s.logger.WarnContext(ctx, "session list cache read failed", "user_id", userID, "error", err)
		} else if ok {
			observability.RecordSessionCacheEvent(ctx, "session_list", "hit")
			return cached, nil
		}
		observability.RecordSessionCacheEvent(ctx, "session_list", "miss")
	}

	authorizations, err := s.authorizations.FindBySubject(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("list authorizations: %w", err)
	}
	span.SetAttributes(attribute.Int("session.count", len(authorizations)))

	views := make([]SessionView, len(authorizations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.Concurrency)
	for i := range authorizations {
		a := authorizations[i]
		g.Go(func() error {
			view, err := s.buildView(gctx, a)
			if err != nil {
				return err
			}
			views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !cacheEnabled {
		return views, nil
	}
	if err := s.listCache.Set(ctx, userID, views, s.policy.CacheTTL); err != nil {
		s.logger.WarnContext(ctx, "session list cache write failed", "user_id", userID, "error", err)
	}
	return views, nil
}

func (s *SessionService) buildView(ctx context.Context, a domain.Authorization) (SessionView, error) {
	view := SessionView{
		AuthorizationID: a.ID,
		Status:          a.Status,
	}
	if !a.CreatedAt.IsZero() {
		created := a.CreatedAt.UTC()
		view.CreatedAt = &created
	}
	if a.ApplicationID != "" && s.applications != nil {
		app, err := s.applications.FindByID(ctx, a.ApplicationID)
		if err != nil {
			return SessionView{}, fmt.Errorf("resolve application %s: %w", a.ApplicationID, err)
		}
		if app != nil {
			view.ClientID = optionalString(app.ClientID)
			view.ClientDisplayName = optionalString(app.DisplayName)
		}
	}
	if a.ID != "" {
		expiresAt, err := s.tokens.FindNearestExpiration(ctx, a.ID)
		if err != nil {
			return SessionView{}, fmt.Errorf("resolve token expiration for %s: %w", a.ID, err)
		}
		if expiresAt != nil {
			utc := expiresAt.UTC()
			view.ExpiresAt = &utc
		}
	}
	return view, nil
}

// RevokeSession revokes one authorization owned by userID together with its tokens. A missing
// authorization and one owned by somebody else both report false.
func (s *SessionService) RevokeSession(ctx context.Context, userID, authorizationID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "session.revoke")
	defer span.End()

	if strings.TrimSpace(authorizationID) == "" {
		return false, nil
	}
	a, err := s.authorizations.FindByID(ctx, authorizationID)
	if err != nil {
		return false, fmt.Errorf("find authorization: %w", err)
	}
	if a == nil || !strings.EqualFold(a.Subject, userID) {
		observability.RecordSessionRevocation(ctx, "single", "not_found", 0)
		return false, nil
	}

	ok, err := s.authorizations.TryRevoke(ctx, a)
	if err != nil {
		observability.RecordSessionRevocation(ctx, "single", "error", 0)
		return false, fmt.Errorf("revoke authorization: %w", err)
	}
	if !ok {
		observability.RecordSessionRevocation(ctx, "single", "failed", 0)
		return false, nil
	}
	if _, err := s.tokens.RevokeByAuthorizationID(ctx, a.ID); err != nil {
		observability.RecordSessionRevocation(ctx, "single", "error", 0)
		return false, fmt.Errorf("revoke tokens: %w", err)
	}

	s.invalidateList(ctx, a.Subject)
	if a.Subject != userID {
		s.invalidateList(ctx, userID)
	}
	observability.RecordSessionRevocation(ctx, "single", "revoked", 1)
	s.logger.InfoContext(ctx, "session revoked", "user_id", userID, "authorization_id", a.ID)
	return true, nil
}

// RevokeAllSessions revokes every authorization of userID and returns how many succeeded.
// Individual failures are logged and skipped; enumeration failures are returned.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "session.revoke_all")
	defer span.End()

	authorizations, err := s.authorizations.FindBySubject(ctx, userID, domain.AuthorizationStatusValid)
	if err != nil {
		return 0, fmt.Errorf("list valid authorizations: %w", err)
	}
	if len(authorizations) == 0 {
		authorizations, err = s.authorizations.FindBySubject(ctx, userID, "")
		if err != nil {
			return 0, fmt.Errorf("list authorizations: %w", err)
		}
	}

	revoked := 0
	for i := range authorizations {
		a := &authorizations[i]
		ok, err := s.authorizations.TryRevoke(ctx, a)
		if err != nil {
			s.logger.WarnContext(ctx, "authorization revoke failed", "user_id", userID, "authorization_id", a.ID, "error", err)
			continue
		}
		if !ok {
			s.logger.WarnContext(ctx, "authorization revoke rejected", "user_id", userID, "authorization_id", a.ID)
			continue
		}
		if _, err := s.tokens.RevokeByAuthorizationID(ctx, a.ID); err != nil {
			s.logger.WarnContext(ctx, "token revoke failed", "user_id", userID, "authorization_id", a.ID, "error", err)
		}
		revoked++
	}

	if revoked > 0 {
		s.invalidateList(ctx, userID)
	}
	span.SetAttributes(attribute.Int("session.revoked", revoked))
	observability.RecordSessionRevocation(ctx, "all", "revoked", revoked)
	s.logger.InfoContext(ctx, "sessions revoked", "user_id", userID, "requested", len(authorizations), "revoked", revoked)
	return revoked, nil
}

func (s *SessionService) invalidateList(ctx context.Context, userID string) {
	if err := s.listCache.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "session list cache invalidation failed", "user_id", userID, "error", err)
	}
}
