package di

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/idp-session-core/internal/config"
	"github.com/sandeepkv93/idp-session-core/internal/database"
	"github.com/sandeepkv93/idp-session-core/internal/health"
	"github.com/sandeepkv93/idp-session-core/internal/http/handler"
	"github.com/sandeepkv93/idp-session-core/internal/http/middleware"
	"github.com/sandeepkv93/idp-session-core/internal/http/router"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
	"github.com/sandeepkv93/idp-session-core/internal/service"
)

// Telemetry groups the logger with the OTel providers that back it.
type Telemetry struct {
	Logger  *slog.Logger
	Runtime *observability.Runtime
}

// Operator is the service graph used by the sessionctl CLI.
type Operator struct {
	Logger       *slog.Logger
	Sessions     *service.SessionService
	Chains       *service.ChainRevocationService
	UserSessions repository.UserSessionRepository
	Audit        repository.AuditLogRepository
	close        func()
}

func (o *Operator) Close() {
	if o.close != nil {
		o.close()
	}
}

var storeSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewUserSessionRepository,
	repository.NewAuthorizationRepository,
	repository.NewTokenRepository,
	repository.NewApplicationRepository,
	repository.NewAuditLogRepository,
	wire.Bind(new(service.AuthorizationStore), new(*repository.GormAuthorizationRepository)),
	wire.Bind(new(service.TokenStore), new(*repository.GormTokenRepository)),
	wire.Bind(new(service.ApplicationDirectory), new(*repository.GormApplicationRepository)),
	provideTombstoneStore,
	provideSessionListCache,
)

var serviceSet = wire.NewSet(
	provideClock,
	service.NewAuditLogger,
	wire.Bind(new(service.AuditSink), new(*service.AuditLogger)),
	provideRefreshPolicy,
	provideSessionListPolicy,
	service.NewRefreshRotationService,
	service.NewSessionService,
	provideChainRevocationService,
	service.NewRBACService,
)

func provideTelemetry(cfg *config.Config) (*Telemetry, func(), error) {
	ctx := context.Background()
	logger, lp, err := observability.InitLogging(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
	if err != nil {
		if lp != nil {
			_ = lp.Shutdown(ctx)
		}
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownObservabilityTimeout)
		defer cancel()
		_ = runtime.Shutdown(shutdownCtx)
	}
	return &Telemetry{Logger: logger, Runtime: runtime}, cleanup, nil
}

func provideLogger(t *Telemetry) *slog.Logger { return t.Logger }

func provideObservabilityRuntime(t *Telemetry) *observability.Runtime { return t.Runtime }

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

// provideRedis returns nil when Redis is disabled; the cache providers then fall back to memory.
func provideRedis(cfg *config.Config) redis.UniversalClient {
	if !cfg.RedisEnabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func provideTombstoneStore(cfg *config.Config, client redis.UniversalClient) service.SessionTombstoneStore {
	if client == nil {
		return service.NewInMemorySessionTombstoneStore()
	}
	return service.NewRedisSessionTombstoneStore(client, cfg.RedisKeyPrefix+":session_tombstone")
}

func provideSessionListCache(cfg *config.Config, client redis.UniversalClient) service.SessionListCacheStore {
	if client == nil {
		return service.NewInMemorySessionListCacheStore()
	}
	return service.NewRedisSessionListCacheStore(client, cfg.RedisKeyPrefix+":session_list")
}

func provideClock() service.Clock { return service.SystemClock{} }

func provideRefreshPolicy(cfg *config.Config) service.RefreshPolicy {
	return service.RefreshPolicy{
		Pepper:         cfg.RefreshTokenPepper,
		SlidingWindow:  cfg.SessionSlidingWindow,
		AbsoluteTTL:    cfg.SessionAbsoluteTTL,
		AccessTokenTTL: cfg.AccessTokenTTL,
		MaxAttempts:    cfg.RefreshMaxAttempts,
		TombstoneTTL:   cfg.SessionTombstoneTTL,
	}
}

func provideSessionListPolicy(cfg *config.Config) service.SessionListPolicy {
	return service.SessionListPolicy{CacheTTL: cfg.SessionListCacheTTL, Concurrency: cfg.SessionListConcurrency}
}

func provideChainRevocationService(
	cfg *config.Config,
	sessions repository.UserSessionRepository,
	authorizations service.AuthorizationStore,
	tokens service.TokenStore,
	tombstones service.SessionTombstoneStore,
	listCache service.SessionListCacheStore,
	audit service.AuditSink,
	clock service.Clock,
	logger *slog.Logger,
) *service.ChainRevocationService {
	return service.NewChainRevocationService(sessions, authorizations, tokens, tombstones, listCache, audit, clock, logger, cfg.SessionTombstoneTTL)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	sessions *service.SessionService,
	refresh *service.RefreshRotationService,
	chains *service.ChainRevocationService,
	audit repository.AuditLogRepository,
	rbac *service.RBACService,
	readiness *health.ProbeRunner,
	client redis.UniversalClient,
) router.Dependencies {
	return router.Dependencies{
		SessionHandler:           handler.NewSessionHandler(sessions),
		RefreshHandler:           handler.NewRefreshHandler(refresh),
		AdminHandler:             handler.NewAdminHandler(sessions, chains, audit),
		ConsentHandler:           handler.NewConsentHandler(),
		RBACService:              rbac,
		TrustedSubjectHeader:     cfg.TrustedSubjectHeader,
		TrustedPermissionsHeader: cfg.TrustedPermissionsHeader,
		APIRateLimitRPM:          cfg.APIRateLimitRPM,
		RefreshRateLimitRPM:      cfg.RefreshRateLimitRPM,
		RouteRateLimitPolicies:   provideRouteRateLimitPolicies(cfg, client),
		Readiness:                readiness,
		EnableOTelHTTP:           cfg.EnableOTelHTTP,
	}
}

// provideRouteRateLimitPolicies moves the refresh and admin-write budgets into Redis so every replica
// draws from the same counters. Without Redis the router falls back to per-process limiters.
func provideRouteRateLimitPolicies(cfg *config.Config, client redis.UniversalClient) router.RouteRateLimitPolicies {
	if client == nil {
		return nil
	}
	limiter := middleware.NewRedisFixedWindowLimiter(client, cfg.RedisKeyPrefix+":rate_limit")
	keyFunc := middleware.SubjectOrIPKeyFunc(cfg.TrustedSubjectHeader)
	build := func(scope string, rpm int) func(http.Handler) http.Handler {
		policy := middleware.RateLimitPolicy{Limit: rpm, Window: time.Minute}
		return middleware.NewRateLimiterWithPolicy(limiter, policy, middleware.FailOpen, scope, keyFunc).Middleware()
	}
	return router.RouteRateLimitPolicies{
		router.RoutePolicyRefresh:    build(router.RoutePolicyRefresh, cfg.RefreshRateLimitRPM),
		router.RoutePolicyAdminWrite: build(router.RoutePolicyAdminWrite, cfg.APIRateLimitRPM),
	}
}

func provideHTTPServer(cfg *config.Config, dep router.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideStopBackground() func() { return func() {} }

func provideOperator(
	logger *slog.Logger,
	sessions *service.SessionService,
	chains *service.ChainRevocationService,
	userSessions repository.UserSessionRepository,
	audit repository.AuditLogRepository,
	db *gorm.DB,
	client redis.UniversalClient,
) *Operator {
	return &Operator{
		Logger:       logger,
		Sessions:     sessions,
		Chains:       chains,
		UserSessions: userSessions,
		Audit:        audit,
		close: func() {
			if client != nil {
				_ = client.Close()
			}
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}
}
