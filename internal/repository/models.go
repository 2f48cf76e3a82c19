package repository

import (
	"encoding/json"
	"time"

	"github.com/claimdesk/notify-engine/internal/domain"
)

// NotificationJobModel is the persistence model for the notification_jobs table.
type NotificationJobModel struct {
	ID                  string          `gorm:"type:uuid;primaryKey"`
	EventCode           string          `gorm:"type:varchar(64);not null"`
	Channel             domain.Channel  `gorm:"type:varchar(10);not null"`
	TemplateKey         string          `gorm:"type:varchar(64);not null"`
	EntityID            *string         `gorm:"type:varchar(64)"`
	ActorID             string          `gorm:"type:varchar(64)"`
	RecipientID         string          `gorm:"type:varchar(64);not null"`
	RecipientEmail      string          `gorm:"type:varchar(255);not null"`
	CcEmails            []string        `gorm:"serializer:json;type:jsonb"`
	Payload             json.RawMessage `gorm:"type:jsonb"`
	Status              domain.Status   `gorm:"type:varchar(20);not null"`
	Attempts            int             `gorm:"not null;default:0"`
	MaxAttempts         int             `gorm:"not null;default:5"`
	DedupeKey           string          `gorm:"type:varchar(64);not null"`
	ScheduledAt         time.Time
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	FailedAt            *time.Time
	LastError           *string `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (NotificationJobModel) TableName() string {
	return "notification_jobs"
}

// NotificationLogModel is the persistence model for notification_logs.
type NotificationLogModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	JobID          string         `gorm:"type:uuid;not null"`
	EventCode      string         `gorm:"type:varchar(64);not null"`
	Channel        domain.Channel `gorm:"type:varchar(10);not null"`
	RecipientEmail string         `gorm:"type:varchar(255);not null"`
	Outcome        domain.Outcome `gorm:"type:varchar(10);not null"`
	Attempt        int            `gorm:"not null"`
	Detail         *string        `gorm:"type:text"`
	CreatedAt      time.Time
}

func (NotificationLogModel) TableName() string {
	return "notification_logs"
}

// TemplateMappingModel is the persistence model for template_mappings.
type TemplateMappingModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	EventCode   string         `gorm:"type:varchar(64);not null"`
	Channel     domain.Channel `gorm:"type:varchar(10);not null"`
	TemplateKey string         `gorm:"type:varchar(64);not null"`
	IsActive    bool           `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TemplateMappingModel) TableName() string {
	return "template_mappings"
}

func jobModelFromDomain(j *domain.NotificationJob) *NotificationJobModel {
	if j == nil {
		return nil
	}

	return &NotificationJobModel{
		ID:                  j.ID,
		EventCode:           j.EventCode,
		Channel:             j.Channel,
		TemplateKey:         j.TemplateKey,
		EntityID:            j.EntityID,
		ActorID:             j.ActorID,
		RecipientID:         j.RecipientID,
		RecipientEmail:      j.RecipientEmail,
		CcEmails:            j.CcEmails,
		Payload:             j.Payload,
		Status:              j.Status,
		Attempts:            j.Attempts,
		MaxAttempts:         j.MaxAttempts,
		DedupeKey:           j.DedupeKey,
		ScheduledAt:         j.ScheduledAt,
		ProcessingStartedAt: j.ProcessingStartedAt,
		SentAt:              j.SentAt,
		FailedAt:            j.FailedAt,
		LastError:           j.LastError,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
}

func jobModelToDomain(m *NotificationJobModel) *domain.NotificationJob {
	if m == nil {
		return nil
	}

	return &domain.NotificationJob{
		ID:                  m.ID,
		EventCode:           m.EventCode,
		Channel:             m.Channel,
		TemplateKey:         m.TemplateKey,
		EntityID:            m.EntityID,
		ActorID:             m.ActorID,
		RecipientID:         m.RecipientID,
		RecipientEmail:      m.RecipientEmail,
		CcEmails:            m.CcEmails,
		Payload:             m.Payload,
		Status:              m.Status,
		Attempts:            m.Attempts,
		MaxAttempts:         m.MaxAttempts,
		DedupeKey:           m.DedupeKey,
		ScheduledAt:         m.ScheduledAt,
		ProcessingStartedAt: m.ProcessingStartedAt,
		SentAt:              m.SentAt,
		FailedAt:            m.FailedAt,
		LastError:           m.LastError,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func logModelFromDomain(l *domain.NotificationLog) *NotificationLogModel {
	if l == nil {
		return nil
	}

	return &NotificationLogModel{
		ID:             l.ID,
		JobID:          l.JobID,
		EventCode:      l.EventCode,
		Channel:        l.Channel,
		RecipientEmail: l.RecipientEmail,
		Outcome:        l.Outcome,
		Attempt:        l.Attempt,
		Detail:         l.Detail,
		CreatedAt:      l.CreatedAt,
	}
}

func logModelToDomain(m *NotificationLogModel) *domain.NotificationLog {
	if m == nil {
		return nil
	}

	return &domain.NotificationLog{
		ID:             m.ID,
		JobID:          m.JobID,
		EventCode:      m.EventCode,
		Channel:        m.Channel,
		RecipientEmail: m.RecipientEmail,
		Outcome:        m.Outcome,
		Attempt:        m.Attempt,
		Detail:         m.Detail,
		CreatedAt:      m.CreatedAt,
	}
}

func mappingModelToDomain(m *TemplateMappingModel) *domain.TemplateMapping {
	if m == nil {
		return nil
	}

	return &domain.TemplateMapping{
		ID:          m.ID,
		EventCode:   m.EventCode,
		Channel:     m.Channel,
		TemplateKey: m.TemplateKey,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func mappingModelFromDomain(d *domain.TemplateMapping) *TemplateMappingModel {
	if d == nil {
		return nil
	}

	return &TemplateMappingModel{
		ID:          d.ID,
		EventCode:   d.EventCode,
		Channel:     d.Channel,
		TemplateKey: d.TemplateKey,
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
