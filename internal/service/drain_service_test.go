package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/claimdesk/notify-engine/internal/domain"
	"github.com/claimdesk/notify-engine/internal/provider"
	"github.com/claimdesk/notify-engine/internal/template"
)

func queuedJob(id string, attempts, maxAttempts int) domain.NotificationJob {
	return domain.NotificationJob{
		ID:             id,
		EventCode:      "submit",
		Channel:        domain.ChannelEmail,
		TemplateKey:    "claim_submitted",
		RecipientID:    "u1",
		RecipientEmail: "u1@x.com",
		Payload:        json.RawMessage(`{}`),
		Status:         domain.StatusQueued,
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		DedupeKey:      "key-" + id,
	}
}

func newDrainService(t *testing.T, jobs *fakeJobRepo, logs *fakeLogRepo, p *fakeProvider) *DrainService {
	t.Helper()

	svc, err := NewDrainService(
		jobs,
		logs,
		&fakeRenderer{},
		p,
		nil,
		"mail.example.com",
		25,
		time.Second,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewDrainService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return svc
}

func TestDrainDeliversClaimedJob(t *testing.T) {
	t.Parallel()

	var markedSent []string
	var logRows []domain.NotificationLog

	job := queuedJob("j1", 0, 3)
	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			if limit != 25*candidateFactor {
				t.Fatalf("candidate limit = %d, want %d", limit, 25*candidateFactor)
			}
			return []domain.NotificationJob{job}, nil
		},
		markSentFn: func(ctx context.Context, id string, now time.Time) (bool, error) {
			markedSent = append(markedSent, id)
			return true, nil
		},
	}
	logs := &fakeLogRepo{
		createFn: func(ctx context.Context, l *domain.NotificationLog) error {
			logRows = append(logRows, *l)
			return nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			if msg.To[0] != "u1@x.com" {
				t.Fatalf("to = %q, want u1@x.com", msg.To[0])
			}
			return &provider.SendResult{MessageID: "m1"}, nil
		},
	}

	svc := newDrainService(t, jobs, logs, p)

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Claimed != 1 || result.Sent != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want {1 1 0}", result)
	}
	if len(markedSent) != 1 || markedSent[0] != "j1" {
		t.Fatalf("marked sent = %v, want [j1]", markedSent)
	}
	if len(logRows) != 1 {
		t.Fatalf("log rows = %d, want 1", len(logRows))
	}
	if logRows[0].Outcome != domain.OutcomeSent || logRows[0].Attempt != 1 {
		t.Fatalf("log row = %+v, want SENT attempt 1", logRows[0])
	}
}

func TestDrainSkipsLostRaces(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{
				queuedJob("j1", 0, 3),
				queuedJob("j2", 0, 3),
				queuedJob("j3", 0, 3),
			}, nil
		},
		claimFn: func(ctx context.Context, id string, now time.Time) (bool, error) {
			// j2 is claimed by a concurrent drain.
			return id != "j2", nil
		},
	}
	logs := &fakeLogRepo{}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			return &provider.SendResult{}, nil
		},
	}

	svc := newDrainService(t, jobs, logs, p)

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Claimed != 2 || result.Sent != 2 {
		t.Fatalf("result = %+v, want claimed 2 sent 2", result)
	}
}

func TestDrainHonorsLimit(t *testing.T) {
	t.Parallel()

	var claimedIDs []string

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{
				queuedJob("j1", 0, 3),
				queuedJob("j2", 0, 3),
				queuedJob("j3", 0, 3),
			}, nil
		},
		claimFn: func(ctx context.Context, id string, now time.Time) (bool, error) {
			claimedIDs = append(claimedIDs, id)
			return true, nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			return &provider.SendResult{}, nil
		},
	}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)

	result, err := svc.Drain(context.Background(), 2)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Claimed != 2 {
		t.Fatalf("claimed = %d, want 2", result.Claimed)
	}
	if len(claimedIDs) != 2 {
		t.Fatalf("claim calls = %v, want 2 calls", claimedIDs)
	}
}

func TestDrainSchedulesRetryWithBackoff(t *testing.T) {
	t.Parallel()

	var retryAt time.Time
	var lastError string
	var logRows []domain.NotificationLog

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{queuedJob("j1", 0, 3)}, nil
		},
		markRetryFn: func(ctx context.Context, id string, scheduledAt time.Time, errMsg string) (bool, error) {
			retryAt = scheduledAt
			lastError = errMsg
			return true, nil
		},
		markFailedFn: func(ctx context.Context, id string, now time.Time, errMsg string) (bool, error) {
			t.Fatal("first failure must schedule a retry, not fail terminally")
			return false, nil
		},
	}
	logs := &fakeLogRepo{
		createFn: func(ctx context.Context, l *domain.NotificationLog) error {
			logRows = append(logRows, *l)
			return nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := newDrainService(t, jobs, logs, p)

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Failed != 1 || result.Sent != 0 {
		t.Fatalf("result = %+v, want failed 1", result)
	}

	wantRetryAt := svc.now().UTC().Add(domain.Backoff(1))
	if !retryAt.Equal(wantRetryAt) {
		t.Errorf("retry at = %v, want %v", retryAt, wantRetryAt)
	}
	if !strings.Contains(lastError, "connection refused") {
		t.Errorf("last error = %q, want send error carried", lastError)
	}
	if len(logRows) != 1 || logRows[0].Outcome != domain.OutcomeFailed {
		t.Fatalf("log rows = %+v, want one FAILED row", logRows)
	}
	if logRows[0].Detail == nil || !strings.Contains(*logRows[0].Detail, "connection refused") {
		t.Errorf("log detail = %v, want send error carried", logRows[0].Detail)
	}
}

func TestDrainFailsTerminallyAtAttemptBudget(t *testing.T) {
	t.Parallel()

	var failedIDs []string

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{queuedJob("j1", 2, 3)}, nil
		},
		markRetryFn: func(ctx context.Context, id string, scheduledAt time.Time, errMsg string) (bool, error) {
			t.Fatal("exhausted job must fail terminally, not retry")
			return false, nil
		},
		markFailedFn: func(ctx context.Context, id string, now time.Time, errMsg string) (bool, error) {
			failedIDs = append(failedIDs, id)
			return true, nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if len(failedIDs) != 1 || failedIDs[0] != "j1" {
		t.Fatalf("terminal failures = %v, want [j1]", failedIDs)
	}
}

func TestDrainOneFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{
				queuedJob("j1", 0, 3),
				queuedJob("j2", 0, 3),
			}, nil
		},
	}
	sendCount := 0
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			sendCount++
			if sendCount == 1 {
				return nil, errors.New("greeting timeout")
			}
			return &provider.SendResult{}, nil
		},
	}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Claimed != 2 || result.Sent != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want {2 1 1}", result)
	}
}

func TestDrainRenderFailureCountsAsAttempt(t *testing.T) {
	t.Parallel()

	var retried bool

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{queuedJob("j1", 0, 3)}, nil
		},
		markRetryFn: func(ctx context.Context, id string, scheduledAt time.Time, errMsg string) (bool, error) {
			retried = true
			if !strings.Contains(errMsg, "render failed") {
				t.Fatalf("last error = %q, want render failure", errMsg)
			}
			return true, nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			t.Fatal("send must not be reached when rendering fails")
			return nil, nil
		},
	}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)
	svc.renderer = &fakeRenderer{
		renderFn: func(templateKey string, payload json.RawMessage) (*template.RenderedMessage, error) {
			return nil, fmt.Errorf("%w: payload does not match", domain.ErrValidation)
		},
	}

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if !retried {
		t.Fatal("expected a retry to be scheduled")
	}
}

func TestDrainWatchdogExpiry(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var lastError string
	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{queuedJob("j1", 0, 3)}, nil
		},
		markRetryFn: func(ctx context.Context, id string, scheduledAt time.Time, errMsg string) (bool, error) {
			lastError = errMsg
			return true, nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			<-release
			return nil, errors.New("too late")
		},
	}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)
	expired := make(chan time.Time, 1)
	expired <- time.Unix(0, 0)
	svc.after = func(d time.Duration) <-chan time.Time { return expired }

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if !strings.Contains(lastError, "watchdog") {
		t.Errorf("last error = %q, want watchdog expiry", lastError)
	}
}

func TestDrainLimiterErrorAbortsRun(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{queuedJob("j1", 0, 3)}, nil
		},
	}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
			t.Fatal("send must not be reached when the limiter fails")
			return nil, nil
		},
	}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)
	svc.limiter = &fakeRateLimiter{
		waitFn: func(ctx context.Context, scope string) error {
			if scope != "mail.example.com" {
				t.Fatalf("scope = %q, want mail.example.com", scope)
			}
			return errors.New("redis down")
		},
	}

	if _, err := svc.Drain(context.Background(), 25); err == nil {
		t.Fatal("expected error from limiter, got nil")
	}
}

func TestDrainSentGuardMissStillWritesAuditLog(t *testing.T) {
	t.Parallel()

	var logRows []domain.NotificationLog
	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return []domain.NotificationJob{queuedJob("j1", 0, 3)}, nil
		},
		markSentFn: func(ctx context.Context, id string, now time.Time) (bool, error) {
			// The row left PROCESSING under someone else's hand.
			return false, nil
		},
	}
	logs := &fakeLogRepo{
		createFn: func(ctx context.Context, l *domain.NotificationLog) error {
			logRows = append(logRows, *l)
			return nil
		},
	}

	svc := newDrainService(t, jobs, logs, &fakeProvider{})

	result, err := svc.Drain(context.Background(), 25)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("sent = %d, want 1", result.Sent)
	}
	if len(logRows) != 1 || logRows[0].Outcome != domain.OutcomeSent {
		t.Fatalf("log rows = %+v, want one SENT row", logRows)
	}
}

func TestDrainStoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		findClaimableFn: func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
			return nil, errors.New("connection reset")
		},
	}
	p := &fakeProvider{}

	svc := newDrainService(t, jobs, &fakeLogRepo{}, p)

	if _, err := svc.Drain(context.Background(), 25); err == nil {
		t.Fatal("expected error from store, got nil")
	}
}

type fakeProvider struct {
	sendFn func(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error)
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.EmailMessage) (*provider.SendResult, error) {
	if f.sendFn == nil {
		return &provider.SendResult{}, nil
	}
	return f.sendFn(ctx, msg)
}

type fakeRenderer struct {
	renderFn func(templateKey string, payload json.RawMessage) (*template.RenderedMessage, error)
}

func (f *fakeRenderer) Render(templateKey string, payload json.RawMessage) (*template.RenderedMessage, error) {
	if f.renderFn == nil {
		return &template.RenderedMessage{
			Subject:  "subject",
			TextBody: "text",
			HTMLBody: "<p>html</p>",
		}, nil
	}
	return f.renderFn(templateKey, payload)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn == nil {
		return true, nil
	}
	return f.allowFn(ctx, scope)
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, scope)
}
