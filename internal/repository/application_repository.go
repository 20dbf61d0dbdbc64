package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"

	"gorm.io/gorm"
)

type GormApplicationRepository struct{ db *gorm.DB }

func NewApplicationRepository(db *gorm.DB) *GormApplicationRepository {
	return &GormApplicationRepository{db: db}
}

func (r *GormApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(app).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "application", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "application", "create", "success")
	return nil
}

func (r *GormApplicationRepository) FindByID(ctx context.Context, id string) (*domain.Application, error) {
	var app domain.Application
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "application", "find_by_id", "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "application", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "application", "find_by_id", "success")
	return &app, nil
}
