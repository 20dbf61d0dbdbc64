package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sandeepkv93/idp-session-core/internal/database"
	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/health"
	"github.com/sandeepkv93/idp-session-core/internal/http/handler"
	"github.com/sandeepkv93/idp-session-core/internal/http/router"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

const (
	subjectHeader     = "X-Authenticated-Subject"
	permissionsHeader = "X-Authenticated-Permissions"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type testStack struct {
	baseURL        string
	db             *gorm.DB
	redis          *miniredis.Miniredis
	authorizations *repository.GormAuthorizationRepository
	tokens         *repository.GormTokenRepository
	applications   *repository.GormApplicationRepository
	sessions       repository.UserSessionRepository
	audit          repository.AuditLogRepository
}

func newSessionTestServer(t *testing.T) *testStack {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// sqlite serializes writers; one connection avoids "database is locked" under concurrent requests.
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stack := &testStack{
		db:             db,
		redis:          mr,
		authorizations: repository.NewAuthorizationRepository(db),
		tokens:         repository.NewTokenRepository(db),
		applications:   repository.NewApplicationRepository(db),
		sessions:       repository.NewUserSessionRepository(db),
		audit:          repository.NewAuditLogRepository(db),
	}
	clock := service.SystemClock{}
	tombstones := service.NewRedisSessionTombstoneStore(redisClient, "itest:tombstone")
	listCache := service.NewRedisSessionListCacheStore(redisClient, "itest:sessions")
	auditLogger := service.NewAuditLogger(stack.audit, clock)

	sessionService := service.NewSessionService(stack.authorizations, stack.tokens, stack.applications, listCache, logger,
		service.SessionListPolicy{CacheTTL: time.Minute, Concurrency: 4})
	refreshService := service.NewRefreshRotationService(stack.sessions, tombstones, listCache, auditLogger, clock, logger,
		service.RefreshPolicy{Pepper: "integration-pepper-0123456789", SlidingWindow: 30 * time.Minute, AbsoluteTTL: 8 * time.Hour, AccessTokenTTL: 15 * time.Minute, MaxAttempts: 3, TombstoneTTL: time.Hour})
	chainService := service.NewChainRevocationService(stack.sessions, stack.authorizations, stack.tokens, tombstones, listCache,
		auditLogger, clock, logger, time.Hour)

	h := router.NewRouter(router.Dependencies{
		SessionHandler:           handler.NewSessionHandler(sessionService),
		RefreshHandler:           handler.NewRefreshHandler(refreshService),
		AdminHandler:             handler.NewAdminHandler(sessionService, chainService, stack.audit),
		ConsentHandler:           handler.NewConsentHandler(),
		RBACService:              service.NewRBACService(),
		TrustedSubjectHeader:     subjectHeader,
		TrustedPermissionsHeader: permissionsHeader,
		APIRateLimitRPM:          100000,
		RefreshRateLimitRPM:      100000,
		Readiness:                health.NewProbeRunner(time.Second, 0, health.NewDBChecker(db), health.NewRedisChecker(redisClient)),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = redisClient.Close()
		_ = sqlDB.Close()
	})
	stack.baseURL = srv.URL
	return stack
}

// seedAuthorization creates the external grant, its application and one live token.
func (s *testStack) seedAuthorization(t *testing.T, subject, authorizationID string) {
	t.Helper()
	ctx := t.Context()
	appID := "app-" + authorizationID
	if err := s.applications.Create(ctx, &domain.Application{ID: appID, ClientID: "client-" + authorizationID, DisplayName: "Client " + authorizationID}); err != nil {
		t.Fatalf("seed application: %v", err)
	}
	if err := s.authorizations.Create(ctx, &domain.Authorization{ID: authorizationID, Subject: subject, ApplicationID: appID}); err != nil {
		t.Fatalf("seed authorization: %v", err)
	}
	expires := time.Now().UTC().Add(time.Hour)
	if err := s.tokens.Create(ctx, &domain.OAuthToken{ID: "tok-" + authorizationID, AuthorizationID: authorizationID, Subject: subject, Status: domain.TokenStatusValid, ExpiresAt: &expires}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func doJSON(t *testing.T, method, url, subject, permissions string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if subject != "" {
		req.Header.Set(subjectHeader, subject)
	}
	if permissions != "" {
		req.Header.Set(permissionsHeader, permissions)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}
