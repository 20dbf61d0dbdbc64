package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/sandeepkv93/idp-session-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "idp-session-core"

type AppMetrics struct {
	refreshCounter       metric.Int64Counter
	revocationCounter    metric.Int64Counter
	revokedCounter       metric.Int64Counter
	rateLimitCounter     metric.Int64Counter
	scopeCounter         metric.Int64Counter
	auditFailureCounter  metric.Int64Counter
	repositoryCounter    metric.Int64Counter
	sessionCacheCounter  metric.Int64Counter
	slidingExtensionHist metric.Int64Histogram
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	refreshCounter, err := meter.Int64Counter("session.refresh.outcomes")
	if err != nil {
		return nil, err
	}
	revocationCounter, err := meter.Int64Counter("session.revocations")
	if err != nil {
		return nil, err
	}
	revokedCounter, err := meter.Int64Counter("session.revoked")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("http.rate_limit.decisions")
	if err != nil {
		return nil, err
	}
	scopeCounter, err := meter.Int64Counter("consent.scope.classifications")
	if err != nil {
		return nil, err
	}
	auditFailureCounter, err := meter.Int64Counter("audit.write.failures")
	if err != nil {
		return nil, err
	}
	repositoryCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	sessionCacheCounter, err := meter.Int64Counter("session.cache.events")
	if err != nil {
		return nil, err
	}
	slidingExtensionHist, err := meter.Int64Histogram("session.sliding.extension_count")
	if err != nil {
		return nil, err
	}
	return &AppMetrics{
		refreshCounter:       refreshCounter,
		revocationCounter:    revocationCounter,
		revokedCounter:       revokedCounter,
		rateLimitCounter:     rateLimitCounter,
		scopeCounter:         scopeCounter,
		auditFailureCounter:  auditFailureCounter,
		repositoryCounter:    repositoryCounter,
		sessionCacheCounter:  sessionCacheCounter,
		slidingExtensionHist: slidingExtensionHist,
	}, nil
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func loadMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordRefreshOutcome(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordSlidingExtension(ctx context.Context, extensionCount int) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.slidingExtensionHist.Record(ctx, int64(extensionCount))
}

// RecordSessionRevocation counts one revocation call and, separately, how many sessions it ended.
func RecordSessionRevocation(ctx context.Context, kind, outcome string, count int) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.revocationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
	if count > 0 {
		m.revokedCounter.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, keyType string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
			attribute.String("key_type", keyType),
		),
	)
}

func RecordScopeClassification(ctx context.Context, partial bool) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.scopeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("partial", strconv.FormatBool(partial))))
}

func RecordAuditWriteFailure(ctx context.Context, eventType string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.auditFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("repository", repository),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordSessionCacheEvent(ctx context.Context, cache, event string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.sessionCacheCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("event", event),
		),
	)
}
