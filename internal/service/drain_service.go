package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claimdesk/notify-engine/internal/domain"
	"github.com/claimdesk/notify-engine/internal/observability"
	"github.com/claimdesk/notify-engine/internal/provider"
	"github.com/claimdesk/notify-engine/internal/ratelimit"
	"github.com/claimdesk/notify-engine/internal/repository"
	"github.com/claimdesk/notify-engine/internal/template"
)

const (
	defaultDrainBatchSize  = 25
	defaultDeliveryTimeout = 60 * time.Second
	// candidateFactor oversizes the candidate query relative to the batch
	// so lost claim races do not starve a drain run.
	candidateFactor = 3
)

// Renderer turns a stored job payload into a deliverable message.
type Renderer interface {
	Render(templateKey string, payload json.RawMessage) (*template.RenderedMessage, error)
}

// DrainResult summarizes one claim-then-deliver cycle.
type DrainResult struct {
	Claimed int
	Sent    int
	Failed  int
}

// DrainService claims a batch of eligible jobs and delivers them
// sequentially. Mutual exclusion with concurrent drains rests entirely on
// the store's conditional writes, so any number of invocations may overlap
// without double-delivering a job.
type DrainService struct {
	jobs            repository.JobRepository
	logs            repository.LogRepository
	renderer        Renderer
	provider        provider.Provider
	limiter         ratelimit.RateLimiter
	limiterScope    string
	logger          *zap.Logger
	metrics         *observability.Metrics
	batchSize       int
	deliveryTimeout time.Duration
	now             func() time.Time
	after           func(d time.Duration) <-chan time.Time
}

func NewDrainService(
	jobs repository.JobRepository,
	logs repository.LogRepository,
	renderer Renderer,
	emailProvider provider.Provider,
	limiter ratelimit.RateLimiter,
	limiterScope string,
	batchSize int,
	deliveryTimeout time.Duration,
	logger *zap.Logger,
) (*DrainService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if emailProvider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if batchSize < 1 {
		batchSize = defaultDrainBatchSize
	}
	if deliveryTimeout <= 0 {
		deliveryTimeout = defaultDeliveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DrainService{
		jobs:            jobs,
		logs:            logs,
		renderer:        renderer,
		provider:        emailProvider,
		limiter:         limiter,
		limiterScope:    limiterScope,
		logger:          logger,
		batchSize:       batchSize,
		deliveryTimeout: deliveryTimeout,
		now:             time.Now,
		after:           time.After,
	}, nil
}

func (s *DrainService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Drain runs one claim-then-deliver cycle over at most limit jobs. Store
// and rate-limiter errors abort the run and surface to the caller; a
// single job's delivery failure is resolved (retry or terminal) and never
// aborts the batch. Jobs the run claimed but never tried to deliver are
// released back to the queue before the error is returned, so an abort
// strands nothing in PROCESSING.
func (s *DrainService) Drain(ctx context.Context, limit int) (*DrainResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit < 1 {
		limit = s.batchSize
	}

	start := s.now()
	result := &DrainResult{}
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveDrainDuration(s.now().Sub(start))
		}
	}()

	claimed, err := s.claimBatch(ctx, limit)
	if err != nil {
		return result, err
	}
	result.Claimed = len(claimed)
	if s.metrics != nil && len(claimed) > 0 {
		s.metrics.IncJobsClaimed(len(claimed))
	}

	for i := range claimed {
		job := &claimed[i]

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, s.limiterScope); err != nil {
				s.releaseUnprocessed(ctx, claimed[i:])
				return result, fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}

		sent, err := s.deliver(ctx, job)
		if err != nil {
			s.releaseUnprocessed(ctx, claimed[i+1:])
			return result, err
		}
		if sent {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

// releaseUnprocessed requeues claimed jobs an aborted run never tried to
// deliver. Attempts are not charged because no delivery happened. The run
// may be aborting on a canceled context, so the writes run detached from
// it.
func (s *DrainService) releaseUnprocessed(ctx context.Context, jobs []domain.NotificationJob) {
	if len(jobs) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for i := range jobs {
		ok, err := s.jobs.Release(ctx, jobs[i].ID)
		if err != nil || !ok {
			s.logger.Warn("failed to release claimed job after aborted drain",
				zap.String("jobId", jobs[i].ID),
				zap.Error(err),
			)
		}
	}
}

// claimBatch selects candidates in (scheduled_at, created_at) order and
// claims them one by one. A lost race on any candidate just advances to
// the next one.
func (s *DrainService) claimBatch(ctx context.Context, limit int) ([]domain.NotificationJob, error) {
	now := s.now().UTC()

	candidates, err := s.jobs.FindClaimable(ctx, now, limit*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch claimable jobs: %w", err)
	}

	claimed := make([]domain.NotificationJob, 0, limit)
	for i := range candidates {
		if len(claimed) >= limit {
			break
		}

		job := candidates[i]
		if !domain.Claimable(&job, now) {
			continue
		}

		ok, err := s.jobs.Claim(ctx, job.ID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}
		if !ok {
			// Another drain got there first.
			continue
		}

		job.Status = domain.StatusProcessing
		claimed = append(claimed, job)
	}

	return claimed, nil
}

// deliver renders and sends one claimed job, then resolves it to SENT,
// QUEUED-with-backoff or terminal FAILED. The returned error is reserved
// for store failures; delivery failures are resolved in place.
func (s *DrainService) deliver(ctx context.Context, job *domain.NotificationJob) (bool, error) {
	attempt := job.Attempts + 1

	sendStart := s.now()
	sendErr := s.renderAndSend(ctx, job)
	if s.metrics != nil {
		s.metrics.ObserveDeliveryDuration(job.EventCode, s.now().Sub(sendStart))
	}

	if sendErr == nil {
		return true, s.resolveSent(ctx, job, attempt)
	}
	return false, s.resolveFailed(ctx, job, attempt, sendErr)
}

func (s *DrainService) renderAndSend(ctx context.Context, job *domain.NotificationJob) error {
	rendered, err := s.renderer.Render(job.TemplateKey, job.Payload)
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	msg := provider.EmailMessage{
		To:       []string{job.RecipientEmail},
		Cc:       job.CcEmails,
		Subject:  rendered.Subject,
		TextBody: rendered.TextBody,
		HTMLBody: rendered.HTMLBody,
	}

	// The send is raced against an independent watchdog so a provider that
	// wedges past its own socket deadlines cannot stall the whole batch.
	type sendOutcome struct {
		err error
	}
	outcomeCh := make(chan sendOutcome, 1)
	go func() {
		_, err := s.provider.Send(ctx, msg)
		outcomeCh <- sendOutcome{err: err}
	}()

	select {
	case outcome := <-outcomeCh:
		return outcome.err
	case <-s.after(s.deliveryTimeout):
		return fmt.Errorf("delivery watchdog expired after %s", s.deliveryTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DrainService) resolveSent(ctx context.Context, job *domain.NotificationJob, attempt int) error {
	ok, err := s.jobs.MarkSent(ctx, job.ID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark job %s as sent: %w", job.ID, err)
	}
	if !ok {
		// Only the run that claimed the PROCESSING transition should ever
		// resolve it; a miss here means the row was mutated externally. The
		// delivery did happen, so the audit row below is still written.
		s.logger.Warn("job status changed before sent mark",
			zap.String("jobId", job.ID),
		)
		if s.metrics != nil {
			s.metrics.IncGuardMiss("sent")
		}
	}
	if s.metrics != nil {
		s.metrics.IncJobSent(job.EventCode)
	}

	return s.appendLog(ctx, job, domain.OutcomeSent, attempt, nil)
}

func (s *DrainService) resolveFailed(ctx context.Context, job *domain.NotificationJob, attempt int, sendErr error) error {
	detail := sendErr.Error()
	now := s.now().UTC()
	terminal := attempt >= domain.EffectiveMaxAttempts(job.MaxAttempts)

	if terminal {
		ok, err := s.jobs.MarkFailed(ctx, job.ID, now, detail)
		if err != nil {
			return fmt.Errorf("failed to mark job %s as failed: %w", job.ID, err)
		}
		if !ok {
			s.logger.Warn("job status changed before failed mark",
				zap.String("jobId", job.ID),
			)
			if s.metrics != nil {
				s.metrics.IncGuardMiss("failed")
			}
		}
		s.logger.Error("job failed terminally",
			zap.String("jobId", job.ID),
			zap.String("eventCode", job.EventCode),
			zap.Int("attempt", attempt),
			zap.Error(sendErr),
		)
	} else {
		retryAt := now.Add(domain.Backoff(attempt))
		ok, err := s.jobs.MarkRetry(ctx, job.ID, retryAt, detail)
		if err != nil {
			return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
		}
		if !ok {
			s.logger.Warn("job status changed before retry mark",
				zap.String("jobId", job.ID),
			)
			if s.metrics != nil {
				s.metrics.IncGuardMiss("retry")
			}
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(job.EventCode)
		}
		s.logger.Warn("job delivery failed, retry scheduled",
			zap.String("jobId", job.ID),
			zap.String("eventCode", job.EventCode),
			zap.Int("attempt", attempt),
			zap.Time("retryAt", retryAt),
			zap.Error(sendErr),
		)
	}

	if s.metrics != nil {
		s.metrics.IncJobFailed(job.EventCode, terminal)
	}

	return s.appendLog(ctx, job, domain.OutcomeFailed, attempt, &detail)
}

func (s *DrainService) appendLog(
	ctx context.Context,
	job *domain.NotificationJob,
	outcome domain.Outcome,
	attempt int,
	detail *string,
) error {
	logRow := &domain.NotificationLog{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		EventCode:      job.EventCode,
		Channel:        job.Channel,
		RecipientEmail: job.RecipientEmail,
		Outcome:        outcome,
		Attempt:        attempt,
		Detail:         detail,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.logs.Create(ctx, logRow); err != nil {
		return fmt.Errorf("failed to append %s log for job %s: %w", outcome, job.ID, err)
	}
	return nil
}
