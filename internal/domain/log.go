package domain

import "time"

// Outcome classifies a delivery attempt resolution.
type Outcome string

const (
	OutcomeSent   Outcome = "SENT"
	OutcomeFailed Outcome = "FAILED"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) IsValid() bool {
	return o == OutcomeSent || o == OutcomeFailed
}

// NotificationLog records a single delivery attempt resolution. Rows are
// append-only and outlive the job they reference.
type NotificationLog struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	JobID          string  `gorm:"type:uuid;not null"`
	EventCode      string  `gorm:"type:varchar(64);not null"`
	Channel        Channel `gorm:"type:varchar(10);not null"`
	RecipientEmail string  `gorm:"type:varchar(255);not null"`
	Outcome        Outcome `gorm:"type:varchar(10);not null"`
	Attempt        int     `gorm:"not null"`
	Detail         *string `gorm:"type:text"`
	CreatedAt      time.Time
}
