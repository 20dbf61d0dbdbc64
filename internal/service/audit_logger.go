package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
)

// AuditLogger persists audit events and mirrors each one as a structured "audit" log line.
type AuditLogger struct {
	repo  repository.AuditLogRepository
	clock Clock
}

func NewAuditLogger(repo repository.AuditLogRepository, clock Clock) *AuditLogger {
	return &AuditLogger{repo: repo, clock: clock}
}

func (l *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) error {
	observability.Audit(ctx, event.EventType,
		"user_id", event.UserID,
		"ip", event.IP,
		"user_agent", event.UserAgent,
		"details", event.Details,
	)
	if l.repo == nil {
		return nil
	}
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		EventType: event.EventType,
		UserID:    optionalString(event.UserID),
		IP:        optionalString(event.IP),
		UserAgent: optionalString(event.UserAgent),
		CreatedAt: l.clock.Now().UTC(),
	}
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details := string(raw)
		entry.Details = &details
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("persist audit event: %w", err)
	}
	return nil
}

// emitAudit writes to the sink and swallows failures; an audit outage never fails the session operation.
func emitAudit(ctx context.Context, sink AuditSink, logger *slog.Logger, event AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.LogEvent(ctx, event); err != nil {
		observability.RecordAuditWriteFailure(ctx, event.EventType)
		logger.WarnContext(ctx, "audit write failed",
			"event_type", event.EventType,
			"user_id", event.UserID,
			"error", err,
		)
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
