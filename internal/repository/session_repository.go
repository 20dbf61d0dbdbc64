package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrUserSessionNotFound = errors.New("user session not found")
	ErrRotationConflict    = errors.New("user session rotation conflict")
)

// RotationUpdate describes one conditional rotation write. It is committed only while the
// stored current hash still equals ExpectedCurrentHash and the session is not revoked.
type RotationUpdate struct {
	UserID              string
	AuthorizationID     string
	ExpectedCurrentHash string
	NewCurrentHash      string
	SlidingExpiresUTC   time.Time
}

type UserSessionRepository interface {
	Create(ctx context.Context, s *domain.UserSession) error
	FindByUserAndAuthorization(ctx context.Context, userID, authorizationID string) (*domain.UserSession, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.UserSession, error)
	CompareAndSwapRotation(ctx context.Context, u RotationUpdate) error
	MarkRevoked(ctx context.Context, userID, authorizationID, reason string, at time.Time, reuseDetected bool) (bool, error)
}

type GormUserSessionRepository struct{ db *gorm.DB }

func NewUserSessionRepository(db *gorm.DB) UserSessionRepository {
	return &GormUserSessionRepository{db: db}
}

func (r *GormUserSessionRepository) Create(ctx context.Context, s *domain.UserSession) error {
	if s.Version == 0 {
		s.Version = 1
	}
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user_session", "create", "success")
	return nil
}

func (r *GormUserSessionRepository) FindByUserAndAuthorization(ctx context.Context, userID, authorizationID string) (*domain.UserSession, error) {
	var s domain.UserSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND authorization_id = ?", userID, authorizationID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user_session", "find_by_user_and_authorization", "not_found")
			return nil, ErrUserSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user_session", "find_by_user_and_authorization", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user_session", "find_by_user_and_authorization", "success")
	return &s, nil
}

func (r *GormUserSessionRepository) ListByUserID(ctx context.Context, userID string) ([]domain.UserSession, error) {
	var sessions []domain.UserSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_session", "list_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "user_session", "list_by_user_id", "success")
	return sessions, nil
}

func (r *GormUserSessionRepository) CompareAndSwapRotation(ctx context.Context, u RotationUpdate) error {
	res := r.db.WithContext(ctx).Model(&domain.UserSession{}).
		Where("user_id = ? AND authorization_id = ? AND current_refresh_token_hash = ? AND revoked_utc IS NULL",
			u.UserID, u.AuthorizationID, u.ExpectedCurrentHash).
		Updates(map[string]any{
			"previous_refresh_token_hash": u.ExpectedCurrentHash,
			"current_refresh_token_hash":  u.NewCurrentHash,
			"sliding_expires_utc":         u.SlidingExpiresUTC,
			"sliding_extension_count":     gorm.Expr("sliding_extension_count + 1"),
			"version":                     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user_session", "compare_and_swap_rotation", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user_session", "compare_and_swap_rotation", "conflict")
		return ErrRotationConflict
	}
	observability.RecordRepositoryOperation(ctx, "user_session", "compare_and_swap_rotation", "success")
	return nil
}

func (r *GormUserSessionRepository) MarkRevoked(ctx context.Context, userID, authorizationID, reason string, at time.Time, reuseDetected bool) (bool, error) {
	updates := map[string]any{
		"revoked_utc":    at,
		"revoked_reason": reason,
		"version":        gorm.Expr("version + 1"),
	}
	if reuseDetected {
		updates["reuse_detected_utc"] = at
	}
	res := r.db.WithContext(ctx).Model(&domain.UserSession{}).
		Where("user_id = ? AND authorization_id = ? AND revoked_utc IS NULL", userID, authorizationID).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user_session", "mark_revoked", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "user_session", "mark_revoked", "success")
	return res.RowsAffected > 0, nil
}
