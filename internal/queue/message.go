package queue

import (
	"fmt"
	"strings"
	"time"
)

// DrainSignal is the broker payload telling a consumer that notification
// jobs were just enqueued and a drain run should start promptly. It is a
// wake-up only: the job rows themselves stay in the store, and losing a
// signal merely delays delivery until the next scheduled drain.
type DrainSignal struct {
	EventCode     string    `json:"eventCode"`
	CorrelationID string    `json:"correlationId,omitempty"`
	JobsCreated   int       `json:"jobsCreated"`
	EmittedAt     time.Time `json:"emittedAt"`
}

func (m DrainSignal) Validate() error {
	if strings.TrimSpace(m.EventCode) == "" {
		return fmt.Errorf("eventCode is required")
	}
	if m.JobsCreated < 0 {
		return fmt.Errorf("jobsCreated must not be negative")
	}
	return nil
}
