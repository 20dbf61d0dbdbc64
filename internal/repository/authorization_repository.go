package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"

	"gorm.io/gorm"
)

// GormAuthorizationRepository is a relational authorization store. Lookups return nil, nil
// when the authorization does not exist.
type GormAuthorizationRepository struct{ db *gorm.DB }

func NewAuthorizationRepository(db *gorm.DB) *GormAuthorizationRepository {
	return &GormAuthorizationRepository{db: db}
}

func (r *GormAuthorizationRepository) Create(ctx context.Context, a *domain.Authorization) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AuthorizationStatusValid
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "authorization", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "authorization", "create", "success")
	return nil
}

func (r *GormAuthorizationRepository) FindByID(ctx context.Context, id string) (*domain.Authorization, error) {
	var a domain.Authorization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "authorization", "find_by_id", "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "authorization", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "authorization", "find_by_id", "success")
	return &a, nil
}

// FindBySubject lists the subject's authorizations, oldest first. An empty status disables the status filter.
func (r *GormAuthorizationRepository) FindBySubject(ctx context.Context, subject, status string) ([]domain.Authorization, error) {
	q := r.db.WithContext(ctx).Where("subject = ?", subject)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Authorization
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "authorization", "find_by_subject", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "authorization", "find_by_subject", "success")
	return out, nil
}

// TryRevoke marks the authorization revoked. It reports false when the row no longer exists.
func (r *GormAuthorizationRepository) TryRevoke(ctx context.Context, a *domain.Authorization) (bool, error) {
	if a == nil || a.ID == "" {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Authorization{}).
		Where("id = ?", a.ID).
		Update("status", domain.AuthorizationStatusRevoked)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "authorization", "try_revoke", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "authorization", "try_revoke", "not_found")
		return false, nil
	}
	a.Status = domain.AuthorizationStatusRevoked
	observability.RecordRepositoryOperation(ctx, "authorization", "try_revoke", "success")
	return true, nil
}
