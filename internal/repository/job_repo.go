package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claimdesk/notify-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	Status   *domain.Status
	Channel  *domain.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// JobRepository is the persistence port for notification jobs. All status
// mutations are conditional updates guarded on the expected prior status;
// a guard miss reports false with no error.
type JobRepository interface {
	UpsertBatch(ctx context.Context, jobs []*domain.NotificationJob) (int64, error)
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	List(ctx context.Context, params ListParams) ([]domain.NotificationJob, int64, error)
	FindClaimable(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	Release(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string, now time.Time) (bool, error)
	MarkRetry(ctx context.Context, id string, scheduledAt time.Time, lastError string) (bool, error)
	MarkFailed(ctx context.Context, id string, now time.Time, lastError string) (bool, error)
}

var claimableStatuses = []domain.Status{domain.StatusQueued, domain.StatusFailed}

// DedupeIndexPredicate is the WHERE clause of the partial unique index on
// (channel, dedupe_key). Only jobs that can still be delivered take part
// in dedupe; once a job is SENT or has exhausted its attempt budget, a
// later notification for the same business event inserts a fresh row. The
// ON CONFLICT target in UpsertBatch must repeat this predicate verbatim
// for Postgres to infer the index, so the cap is inlined as a literal.
var DedupeIndexPredicate = fmt.Sprintf(
	"status IN ('QUEUED', 'PROCESSING') OR (status = 'FAILED' AND attempts < LEAST(max_attempts, %d))",
	domain.HardAttemptCap,
)

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

// UpsertBatch inserts jobs idempotently: rows conflicting with a
// non-terminal job on (channel, dedupe_key) are ignored, so re-triggering
// the same business event is a no-op while a job for that key is still in
// flight. Returns the number of rows actually inserted.
func (r *GormJobRepo) UpsertBatch(ctx context.Context, jobs []*domain.NotificationJob) (int64, error) {
	models := make([]NotificationJobModel, 0, len(jobs))
	for _, j := range jobs {
		if model := jobModelFromDomain(j); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "channel"}, {Name: "dedupe_key"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: DedupeIndexPredicate}}},
			DoNothing:   true,
		}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	var model NotificationJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) List(ctx context.Context, params ListParams) ([]domain.NotificationJob, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationJobModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationJobModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.NotificationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, total, nil
}

// FindClaimable returns due candidates in (scheduled_at, created_at)
// order. Callers over-fetch relative to their batch size to absorb claim
// contention; the atomic guard in Claim is what actually decides winners.
func (r *GormJobRepo) FindClaimable(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	var models []NotificationJobModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND scheduled_at <= ?", claimableStatuses, now).
		Order("scheduled_at ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.NotificationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

// Claim transitions one job to PROCESSING. The attempts bound sits inside
// the update predicate, so two racing claimers can never push a job past
// its cap: the row version (status) and the budget are checked in the same
// conditional write.
func (r *GormJobRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ? AND status IN ? AND attempts < LEAST(max_attempts, ?)",
			id, claimableStatuses, domain.HardAttemptCap).
		Updates(map[string]any{
			"status":                domain.StatusProcessing,
			"processing_started_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Release returns a claimed job to the queue without charging an attempt.
// Drain runs that abort mid-batch call it for the jobs they claimed but
// never tried to deliver, so those rows become claimable again immediately.
func (r *GormJobRepo) Release(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":                domain.StatusQueued,
			"processing_started_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormJobRepo) MarkSent(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":     domain.StatusSent,
			"sent_at":    now,
			"last_error": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormJobRepo) MarkRetry(ctx context.Context, id string, scheduledAt time.Time, lastError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":       domain.StatusQueued,
			"attempts":     gorm.Expr("attempts + 1"),
			"scheduled_at": scheduledAt,
			"last_error":   lastError,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string, now time.Time, lastError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":     domain.StatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"failed_at":  now,
			"last_error": lastError,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
