package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/idp-session-core/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime owns the OTel providers for the process. Shutdown may be called from both the app's graceful
// stop and the DI cleanup; only the first call does work.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider

	once        sync.Once
	shutdownErr error
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*Runtime, error) {
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	return &Runtime{MeterProvider: mp, TracerProvider: tp, LoggerProvider: lp}, nil
}

// Shutdown flushes then stops traces, metrics and logs in that order, so spans and counters recorded by
// the final revocations still reach the collector while the log pipeline can report failures.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		var errs []error
		if r.TracerProvider != nil {
			errs = append(errs, stopProvider(ctx, "tracer", r.TracerProvider.ForceFlush, r.TracerProvider.Shutdown))
		}
		if r.MeterProvider != nil {
			errs = append(errs, stopProvider(ctx, "meter", r.MeterProvider.ForceFlush, r.MeterProvider.Shutdown))
		}
		if r.LoggerProvider != nil {
			errs = append(errs, stopProvider(ctx, "logger", r.LoggerProvider.ForceFlush, r.LoggerProvider.Shutdown))
		}
		r.shutdownErr = errors.Join(errs...)
	})
	return r.shutdownErr
}

func stopProvider(ctx context.Context, name string, flush, shutdown func(context.Context) error) error {
	var errs []error
	if err := flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush %s provider: %w", name, err))
	}
	if err := shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown %s provider: %w", name, err))
	}
	return errors.Join(errs...)
}
