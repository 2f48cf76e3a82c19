package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claimdesk/notify-engine/internal/domain"
	"github.com/claimdesk/notify-engine/internal/observability"
	"github.com/claimdesk/notify-engine/internal/queue"
	"github.com/claimdesk/notify-engine/internal/repository"
)

const maxRecipientsPerEnqueue = 1000

// Recipient is one target of a business event notification.
type Recipient struct {
	ID    string
	Email string
	Cc    []string
}

// EnqueueRequest describes a business event that may fan out into one job
// per recipient.
type EnqueueRequest struct {
	EventCode   string
	EntityID    *string
	ActorID     string
	Recipients  []Recipient
	Payload     json.RawMessage
	MaxAttempts int
}

// NotificationService is the producer-facing surface: it turns business
// events into queued jobs and answers job queries for the operator API.
type NotificationService struct {
	jobs      repository.JobRepository
	logs      repository.LogRepository
	mappings  repository.MappingRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics

	// maxAttemptsCap is the operator-tunable ceiling applied on top of the
	// per-request budget. It never exceeds domain.HardAttemptCap.
	maxAttemptsCap int
	now            func() time.Time
}

func NewNotificationService(
	jobs repository.JobRepository,
	logs repository.LogRepository,
	mappings repository.MappingRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if mappings == nil {
		return nil, fmt.Errorf("mapping repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		jobs:           jobs,
		logs:           logs,
		mappings:       mappings,
		publisher:      publisher,
		logger:         logger,
		maxAttemptsCap: domain.HardAttemptCap,
		now:            time.Now,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetMaxAttemptsCap lowers the attempt ceiling applied to new jobs. Values
// outside [1, domain.HardAttemptCap] are ignored.
func (s *NotificationService) SetMaxAttemptsCap(cap int) {
	if s == nil || cap < 1 || cap > domain.HardAttemptCap {
		return
	}
	s.maxAttemptsCap = cap
}

// Enqueue creates one queued job per recipient for the given business
// event. A missing or inactive template mapping is a silent feature-off
// switch: zero jobs, nil error. Recipients whose dedupe key already has a
// job on this channel are skipped by the store; the return value counts
// rows actually inserted.
func (s *NotificationService) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateEnqueueRequest(&req); err != nil {
		return 0, err
	}

	mapping, err := s.mappings.GetActive(ctx, req.EventCode, domain.ChannelEmail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("no active template mapping, skipping enqueue",
				zap.String("eventCode", req.EventCode),
				zap.String("channel", domain.ChannelEmail.String()),
			)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to look up template mapping: %w", err)
	}

	maxAttempts := domain.EffectiveMaxAttempts(req.MaxAttempts)
	if maxAttempts > s.maxAttemptsCap {
		maxAttempts = s.maxAttemptsCap
	}

	now := s.now().UTC()
	entityID := ""
	if req.EntityID != nil {
		entityID = *req.EntityID
	}

	jobs := make([]*domain.NotificationJob, 0, len(req.Recipients))
	for _, recipient := range req.Recipients {
		job := &domain.NotificationJob{
			ID:             uuid.NewString(),
			EventCode:      req.EventCode,
			Channel:        domain.ChannelEmail,
			TemplateKey:    mapping.TemplateKey,
			EntityID:       req.EntityID,
			ActorID:        req.ActorID,
			RecipientID:    recipient.ID,
			RecipientEmail: recipient.Email,
			CcEmails:       recipient.Cc,
			Payload:        req.Payload,
			Status:         domain.StatusQueued,
			Attempts:       0,
			MaxAttempts:    maxAttempts,
			DedupeKey:      domain.NewDedupeKey(entityID, recipient.ID, req.EventCode, domain.ChannelEmail),
			ScheduledAt:    now,
		}
		if err := job.Validate(); err != nil {
			return 0, err
		}
		jobs = append(jobs, job)
	}

	created, err := s.jobs.UpsertBatch(ctx, jobs)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue notification jobs: %w", err)
	}
	if s.metrics != nil && created > 0 {
		s.metrics.IncJobsEnqueued(req.EventCode, int(created))
	}

	if created > 0 {
		s.publishDrainSignal(ctx, req.EventCode, created)
	}

	return created, nil
}

// publishDrainSignal wakes up a drain consumer so fresh jobs get delivered
// promptly. Losing the signal only delays delivery until the next
// scheduled drain, so a publish failure is logged and swallowed.
func (s *NotificationService) publishDrainSignal(ctx context.Context, eventCode string, created int64) {
	if s.publisher == nil {
		return
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.DrainSignal{
		EventCode:     eventCode,
		CorrelationID: correlationID,
		JobsCreated:   int(created),
		EmittedAt:     s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, queue.DrainQueueName(), msg); err != nil {
		s.logger.Warn("failed to publish drain signal",
			zap.String("eventCode", eventCode),
			zap.Error(err),
		)
	}
}

// UpsertMappingRequest binds a business event to a template on a channel.
type UpsertMappingRequest struct {
	EventCode   string
	Channel     string
	TemplateKey string
	IsActive    bool
}

// UpsertMapping creates or replaces the template mapping for an
// (event, channel) pair. Deactivating a mapping turns enqueue into a
// silent no-op for that event without touching queued jobs.
func (s *NotificationService) UpsertMapping(ctx context.Context, req UpsertMappingRequest) (*domain.TemplateMapping, error) {
	eventCode := strings.TrimSpace(req.EventCode)
	if eventCode == "" {
		return nil, fmt.Errorf("%w: event code is required", domain.ErrValidation)
	}
	templateKey := strings.TrimSpace(req.TemplateKey)
	if templateKey == "" {
		return nil, fmt.Errorf("%w: template key is required", domain.ErrValidation)
	}

	channel := domain.ChannelEmail
	if strings.TrimSpace(req.Channel) != "" {
		parsed, err := domain.ParseChannelFromString(req.Channel)
		if err != nil {
			return nil, err
		}
		channel = parsed
	}

	mapping := &domain.TemplateMapping{
		ID:          uuid.NewString(),
		EventCode:   eventCode,
		Channel:     channel,
		TemplateKey: templateKey,
		IsActive:    req.IsActive,
	}
	if err := s.mappings.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to upsert template mapping: %w", err)
	}

	return mapping, nil
}

func (s *NotificationService) GetJob(ctx context.Context, id string) (*domain.NotificationJob, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.jobs.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) ListJobs(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.NotificationJob, int64, error) {
	return s.jobs.List(ctx, params)
}

func (s *NotificationService) GetJobLogs(ctx context.Context, jobID string) ([]domain.NotificationLog, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.logs.GetByJobID(ctx, strings.TrimSpace(jobID))
}

func validateEnqueueRequest(req *EnqueueRequest) error {
	req.EventCode = strings.TrimSpace(req.EventCode)
	if req.EventCode == "" {
		return fmt.Errorf("%w: event code is required", domain.ErrValidation)
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if len(req.Recipients) > maxRecipientsPerEnqueue {
		return fmt.Errorf("%w: recipient count exceeds %d", domain.ErrValidation, maxRecipientsPerEnqueue)
	}

	for i := range req.Recipients {
		r := &req.Recipients[i]
		r.ID = strings.TrimSpace(r.ID)
		r.Email = strings.TrimSpace(r.Email)
		if r.ID == "" {
			return fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
		}
		if r.Email == "" {
			return fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
		}
	}

	return nil
}
