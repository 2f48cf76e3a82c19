package repository

import (
	"context"
	"errors"

	"github.com/claimdesk/notify-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MappingRepository resolves which template serves a business event on a
// channel.
type MappingRepository interface {
	GetActive(ctx context.Context, eventCode string, channel domain.Channel) (*domain.TemplateMapping, error)
	Upsert(ctx context.Context, m *domain.TemplateMapping) error
}

type GormMappingRepo struct {
	db *gorm.DB
}

func NewGormMappingRepo(db *gorm.DB) *GormMappingRepo {
	return &GormMappingRepo{db: db}
}

func (r *GormMappingRepo) GetActive(ctx context.Context, eventCode string, channel domain.Channel) (*domain.TemplateMapping, error) {
	var model TemplateMappingModel
	err := r.db.WithContext(ctx).
		Where("event_code = ? AND channel = ? AND is_active = ?", eventCode, channel, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mappingModelToDomain(&model), nil
}

func (r *GormMappingRepo) Upsert(ctx context.Context, m *domain.TemplateMapping) error {
	model := mappingModelFromDomain(m)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_code"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"template_key", "is_active", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if m != nil {
		*m = *mappingModelToDomain(model)
	}
	return nil
}
