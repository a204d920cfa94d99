package repository

import (
	"context"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the audit log of offline action replays.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.ReplayAttempt) error
	ListByActionID(ctx context.Context, actionID string) ([]domain.ReplayAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.ReplayAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByActionID(ctx context.Context, actionID string) ([]domain.ReplayAttempt, error) {
	var models []ReplayAttemptModel
	err := r.db.WithContext(ctx).
		Where("action_id = ?", actionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.ReplayAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
