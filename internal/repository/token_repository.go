package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"

	"gorm.io/gorm"
)

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) *GormTokenRepository {
	return &GormTokenRepository{db: db}
}

func (r *GormTokenRepository) Create(ctx context.Context, t *domain.OAuthToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TokenStatusValid
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "create", "success")
	return nil
}

// RevokeByAuthorizationID revokes every still-valid token linked to the authorization and returns how many changed.
func (r *GormTokenRepository) RevokeByAuthorizationID(ctx context.Context, authorizationID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.OAuthToken{}).
		Where("authorization_id = ? AND status <> ?", authorizationID, domain.TokenStatusRevoked).
		Update("status", domain.TokenStatusRevoked)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token", "revoke_by_authorization_id", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "token", "revoke_by_authorization_id", "success")
	return res.RowsAffected, nil
}

// FindNearestExpiration returns the earliest expiry among the authorization's valid tokens, or nil.
func (r *GormTokenRepository) FindNearestExpiration(ctx context.Context, authorizationID string) (*time.Time, error) {
	var t domain.OAuthToken
	err := r.db.WithContext(ctx).
		Where("authorization_id = ? AND status = ? AND expires_at IS NOT NULL", authorizationID, domain.TokenStatusValid).
		Order("expires_at ASC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token", "find_nearest_expiration", "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "token", "find_nearest_expiration", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "token", "find_nearest_expiration", "success")
	return t.ExpiresAt, nil
}
