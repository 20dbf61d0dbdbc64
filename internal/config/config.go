package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseDriver      string
	DatabaseURL         string
	DatabaseAutoMigrate bool

	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	RefreshTokenPepper   string
	SessionSlidingWindow time.Duration
	SessionAbsoluteTTL   time.Duration
	AccessTokenTTL       time.Duration
	RefreshMaxAttempts   int

	SessionListCacheTTL    time.Duration
	SessionTombstoneTTL    time.Duration
	SessionListConcurrency int

	TrustedSubjectHeader     string
	TrustedPermissionsHeader string

	APIRateLimitRPM     int
	RefreshRateLimitRPM int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	EnableOTelHTTP            bool

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

func Load() (*Config, error) {
	cfg, err := load()
	outcome := loadOutcome{profile: os.Getenv("APP_ENV"), result: "success", errorClass: "none", storage: storageMode(cfg)}
	if err != nil {
		outcome.result = "error"
		outcome.errorClass = classifyConfigLoadError(err)
		recordConfigLoad(context.Background(), outcome)
		return nil, err
	}
	recordConfigLoad(context.Background(), outcome)
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{
		AppEnv:                   getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:           strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		RedisKeyPrefix:           getEnv("REDIS_KEY_PREFIX", "idp_session"),
		RefreshTokenPepper:       getEnv("REFRESH_TOKEN_PEPPER", ""),
		TrustedSubjectHeader:     getEnv("TRUSTED_SUBJECT_HEADER", "X-Authenticated-Subject"),
		TrustedPermissionsHeader: getEnv("TRUSTED_PERMISSIONS_HEADER", "X-Authenticated-Permissions"),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "idp-session-core"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var errs []error
	cfg.DatabaseAutoMigrate = parseBool("DATABASE_AUTO_MIGRATE", true, &errs)
	cfg.RedisEnabled = parseBool("REDIS_ENABLED", false, &errs)
	cfg.RedisDB = parseInt("REDIS_DB", 0, &errs)
	cfg.SessionSlidingWindow = parseDuration("SESSION_SLIDING_WINDOW", 30*time.Minute, &errs)
	cfg.SessionAbsoluteTTL = parseDuration("SESSION_ABSOLUTE_TTL", 8*time.Hour, &errs)
	cfg.AccessTokenTTL = parseDuration("ACCESS_TOKEN_TTL", 15*time.Minute, &errs)
	cfg.RefreshMaxAttempts = parseInt("REFRESH_MAX_ATTEMPTS", 3, &errs)
	cfg.SessionListCacheTTL = parseDuration("SESSION_LIST_CACHE_TTL", 0, &errs)
	cfg.SessionTombstoneTTL = parseDuration("SESSION_TOMBSTONE_TTL", 8*time.Hour, &errs)
	cfg.SessionListConcurrency = parseInt("SESSION_LIST_CONCURRENCY", 8, &errs)
	cfg.APIRateLimitRPM = parseInt("API_RATE_LIMIT_RPM", 600, &errs)
	cfg.RefreshRateLimitRPM = parseInt("REFRESH_RATE_LIMIT_RPM", 60, &errs)
	cfg.OTELExporterOTLPInsecure = parseBool("OTEL_EXPORTER_OTLP_INSECURE", true, &errs)
	cfg.OTELMetricsEnabled = parseBool("OTEL_METRICS_ENABLED", false, &errs)
	cfg.OTELTracingEnabled = parseBool("OTEL_TRACING_ENABLED", false, &errs)
	cfg.OTELLogsEnabled = parseBool("OTEL_LOGS_ENABLED", false, &errs)
	cfg.OTELMetricsExportInterval = parseDuration("OTEL_METRICS_EXPORT_INTERVAL", 10*time.Second, &errs)
	cfg.OTELTraceSamplingRatio = parseFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0, &errs)
	cfg.EnableOTelHTTP = parseBool("OTEL_HTTP_ENABLED", true, &errs)
	cfg.ShutdownTimeout = parseDuration("SHUTDOWN_TIMEOUT", 20*time.Second, &errs)
	cfg.ShutdownHTTPDrainTimeout = parseDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second, &errs)
	cfg.ShutdownObservabilityTimeout = parseDuration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second, &errs)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.RefreshTokenPepper) < 16 {
		errs = append(errs, errors.New("REFRESH_TOKEN_PEPPER must be at least 16 characters"))
	}
	if c.SessionSlidingWindow <= 0 {
		errs = append(errs, errors.New("SESSION_SLIDING_WINDOW must be positive"))
	}
	if c.SessionAbsoluteTTL < c.SessionSlidingWindow {
		errs = append(errs, errors.New("SESSION_ABSOLUTE_TTL must not be shorter than SESSION_SLIDING_WINDOW"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshMaxAttempts < 1 {
		errs = append(errs, errors.New("REFRESH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SessionListConcurrency < 1 {
		errs = append(errs, errors.New("SESSION_LIST_CONCURRENCY must be at least 1"))
	}
	if c.APIRateLimitRPM < 1 || c.RefreshRateLimitRPM < 1 {
		errs = append(errs, errors.New("API_RATE_LIMIT_RPM and REFRESH_RATE_LIMIT_RPM must be at least 1"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	if c.RedisEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when REDIS_ENABLED=true"))
	}
	if strings.TrimSpace(c.TrustedSubjectHeader) == "" {
		errs = append(errs, errors.New("TRUSTED_SUBJECT_HEADER is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func parseDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return d
}

func parseInt(key string, fallback int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return n
}

func parseBool(key string, fallback bool, errs *[]error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return b
}

func parseFloat(key string, fallback float64, errs *[]error) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return f
}
