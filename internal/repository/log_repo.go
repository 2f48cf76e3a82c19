package repository

import (
	"context"

	"github.com/claimdesk/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// LogRepository is the append-only audit port. Log rows are never updated
// or deleted.
type LogRepository interface {
	Create(ctx context.Context, l *domain.NotificationLog) error
	GetByJobID(ctx context.Context, jobID string) ([]domain.NotificationLog, error)
}

type GormLogRepo struct {
	db *gorm.DB
}

func NewGormLogRepo(db *gorm.DB) *GormLogRepo {
	return &GormLogRepo{db: db}
}

func (r *GormLogRepo) Create(ctx context.Context, l *domain.NotificationLog) error {
	model := logModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *logModelToDomain(model)
	}
	return nil
}

func (r *GormLogRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.NotificationLog, error) {
	var models []NotificationLogModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.NotificationLog, 0, len(models))
	for i := range models {
		logs = append(logs, *logModelToDomain(&models[i]))
	}

	return logs, nil
}
