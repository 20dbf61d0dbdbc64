package repository

import (
	"context"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"

	"gorm.io/gorm"
)

type AuditLogQuery struct {
	PageRequest
	UserID    string
	EventType string
}

type AuditLogRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	ListPaged(ctx context.Context, query AuditLogQuery) (PageResult[domain.AuditLog], error)
}

type GormAuditLogRepository struct{ db *gorm.DB }

func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &GormAuditLogRepository{db: db}
}

func (r *GormAuditLogRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit_log", "create", "success")
	return nil
}

func (r *GormAuditLogRepository) ListPaged(ctx context.Context, query AuditLogQuery) (PageResult[domain.AuditLog], error) {
	base := r.db.WithContext(ctx).Model(&domain.AuditLog{})
	if query.UserID != "" {
		base = base.Where("user_id = ?", query.UserID)
	}
	if query.EventType != "" {
		base = base.Where("event_type = ?", query.EventType)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "list_paged", "error")
		return PageResult[domain.AuditLog]{}, err
	}
	var items []domain.AuditLog
	page := normalizePageRequest(query.PageRequest)
	if err := base.Order("created_at DESC").Order("id DESC").Offset(page.Offset()).Limit(page.PageSize).Find(&items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "list_paged", "error")
		return PageResult[domain.AuditLog]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "audit_log", "list_paged", "success")
	return newPageResult(page, items, total), nil
}
