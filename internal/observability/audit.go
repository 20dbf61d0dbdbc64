package observability

import (
	"context"
	"log/slog"
)

// Audit writes a structured audit line through the default logger.
func Audit(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
