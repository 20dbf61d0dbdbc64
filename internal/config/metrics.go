package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configLoadCounter metric.Int64Counter
)

// loadOutcome describes one Load call for the config.load.events counter.
type loadOutcome struct {
	profile    string
	result     string
	errorClass string
	storage    string
}

func recordConfigLoad(ctx context.Context, o loadOutcome) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("idp-session-core/config").Int64Counter(
			"config.load.events",
			metric.WithDescription("Configuration load attempts by profile, outcome and storage mode"),
		)
		if err == nil {
			configLoadCounter = counter
		}
	})
	if configLoadCounter == nil {
		return
	}
	configLoadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(o.profile)),
		attribute.String("outcome", o.result),
		attribute.String("error_class", o.errorClass),
		attribute.String("storage", o.storage),
	))
}

// storageMode names the persistence combination a config selects, e.g. "postgres+redis".
func storageMode(cfg *Config) string {
	if cfg == nil {
		return "unknown"
	}
	mode := cfg.DatabaseDriver
	if mode == "" {
		mode = "unknown"
	}
	if cfg.RedisEnabled {
		return mode + "+redis"
	}
	return mode + "+memory"
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

// classifyConfigLoadError buckets a Load error. Validation failures on session secrets or lifetimes get
// their own class since they block token issuance outright.
func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "validate config:") && (strings.Contains(msg, "pepper") || strings.Contains(msg, "session_")):
		return "session_policy"
	case strings.Contains(msg, "validate config:"):
		return "validation"
	case strings.Contains(msg, "parse "):
		return "parse"
	default:
		return "load"
	}
}
