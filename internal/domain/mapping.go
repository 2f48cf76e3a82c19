package domain

import "time"

// TemplateMapping binds a business event to the template used for a
// channel. A missing or inactive mapping silently disables notifications
// for that (event, channel) pair.
type TemplateMapping struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	EventCode   string  `gorm:"type:varchar(64);not null"`
	Channel     Channel `gorm:"type:varchar(10);not null"`
	TemplateKey string  `gorm:"type:varchar(64);not null"`
	IsActive    bool    `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
