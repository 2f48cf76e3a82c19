package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status can never change again. A FAILED
// job with attempts left is re-claimable, so FAILED alone is not terminal;
// terminality is decided by the claimable predicate.
func (s Status) IsTerminal() bool {
	return s == StatusSent
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel. Email is the only channel this
// engine delivers; the dimension is kept because dedupe keys are unique per
// channel and the mapping table is keyed by it.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	return c == ChannelEmail
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

const (
	// DefaultMaxAttempts is applied when a job is enqueued without an
	// explicit attempt budget.
	DefaultMaxAttempts = 5
	// HardAttemptCap bounds attempts regardless of a job's own
	// max_attempts. Stale or hand-edited rows can never retry past it.
	HardAttemptCap = 10
	// BackoffCapMinutes is the ceiling of the retry delay curve.
	BackoffCapMinutes = 60
)

// NotificationJob is one unit of outbound notification work tied to a
// single recipient/event pair.
type NotificationJob struct {
	ID                  string   `gorm:"type:uuid;primaryKey"`
	EventCode           string   `gorm:"type:varchar(64);not null"`
	Channel             Channel  `gorm:"type:varchar(10);not null"`
	TemplateKey         string   `gorm:"type:varchar(64);not null"`
	EntityID            *string  `gorm:"type:varchar(64)"`
	ActorID             string   `gorm:"type:varchar(64)"`
	RecipientID         string   `gorm:"type:varchar(64);not null"`
	RecipientEmail      string   `gorm:"type:varchar(255);not null"`
	CcEmails            []string `gorm:"serializer:json;type:jsonb"`
	Payload             json.RawMessage `gorm:"type:jsonb"`
	Status              Status   `gorm:"type:varchar(20);not null"`
	Attempts            int      `gorm:"not null;default:0"`
	MaxAttempts         int      `gorm:"not null;default:5"`
	DedupeKey           string   `gorm:"type:varchar(64);not null"`
	ScheduledAt         time.Time
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	FailedAt            *time.Time
	LastError           *string `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (j *NotificationJob) Validate() error {
	if strings.TrimSpace(j.EventCode) == "" {
		return fmt.Errorf("%w: event code is required", ErrValidation)
	}
	if !j.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, j.Channel)
	}
	if strings.TrimSpace(j.TemplateKey) == "" {
		return fmt.Errorf("%w: template key is required", ErrValidation)
	}
	if strings.TrimSpace(j.RecipientID) == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if strings.TrimSpace(j.RecipientEmail) == "" {
		return fmt.Errorf("%w: recipient email is required", ErrValidation)
	}
	if j.DedupeKey == "" {
		return fmt.Errorf("%w: dedupe key is required", ErrValidation)
	}
	return nil
}

// EffectiveMaxAttempts returns the attempt budget actually honored for a
// job: min(max_attempts, hard cap), with the default substituted when the
// row carries a non-positive budget.
func EffectiveMaxAttempts(maxAttempts int) int {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts > HardAttemptCap {
		return HardAttemptCap
	}
	return maxAttempts
}

// Terminal reports whether a job can never be delivered again: SENT, or
// FAILED with the attempt budget exhausted. Terminal jobs leave the dedupe
// scope, so the same business event may notify the same recipient again
// later.
func (j *NotificationJob) Terminal() bool {
	if j == nil {
		return false
	}
	switch j.Status {
	case StatusSent:
		return true
	case StatusFailed:
		return j.Attempts >= EffectiveMaxAttempts(j.MaxAttempts)
	}
	return false
}

// Claimable is the single claim predicate shared by the candidate query,
// the atomic claim guard, and test fixtures.
func Claimable(j *NotificationJob, now time.Time) bool {
	if j == nil {
		return false
	}
	if j.Status != StatusQueued && j.Status != StatusFailed {
		return false
	}
	if j.ScheduledAt.After(now) {
		return false
	}
	return j.Attempts < EffectiveMaxAttempts(j.MaxAttempts)
}

// Backoff returns the delay before a job that just failed its n-th attempt
// becomes eligible again: min(60, 2^(n-1)) minutes, deterministic, no
// jitter.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	minutes := 1
	for i := 1; i < attempt; i++ {
		minutes *= 2
		if minutes >= BackoffCapMinutes {
			minutes = BackoffCapMinutes
			break
		}
	}
	return time.Duration(minutes) * time.Minute
}

// NewDedupeKey derives the idempotency key preventing duplicate in-flight
// jobs for the same logical notification. The same inputs always produce
// the same key.
func NewDedupeKey(entityID, recipientID, eventCode string, channel Channel) string {
	raw := strings.Join([]string{entityID, recipientID, eventCode, channel.String()}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
