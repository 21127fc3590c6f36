package model

import (
	"fmt"
	"time"
)

// JobType selects what a scheduled job does when it becomes due.
type JobType string

// Supported job types.
const (
	JobPayment JobType = "payment"
	JobEmail   JobType = "email"
	JobPush    JobType = "push"
)

// Valid reports whether t is one of the supported job types.
func (t JobType) Valid() bool {
	switch t {
	case JobPayment, JobEmail, JobPush:
		return true
	}
	return false
}

// Notification is the payload of email and push jobs.
type Notification struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ScheduledJob is a persisted, time-deferred instruction.
type ScheduledJob struct {
	Date         time.Time      `json:"date"`
	CreatedAt    time.Time      `json:"created_at"`
	Payment      *PaymentIntent `json:"payment,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Type         JobType        `json:"type"`
}

// Validate checks that the job type is supported and its payload matches the type.
func (j *ScheduledJob) Validate() error {
	if j == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if !j.Type.Valid() {
		return fmt.Errorf("unsupported job type %q", j.Type)
	}
	if j.Date.IsZero() {
		return fmt.Errorf("job date is required")
	}
	switch j.Type {
	case JobPayment:
		if j.Payment == nil {
			return fmt.Errorf("payment job requires a payment payload")
		}
	case JobEmail, JobPush:
		if j.Notification == nil {
			return fmt.Errorf("%s job requires a notification payload", j.Type)
		}
	}
	return nil
}

// StatementEntry is one line of an imported bank statement.
type StatementEntry struct {
	Date      time.Time
	FITID     string
	AccountID string
	Name      string
	Memo      string
	Amount    float64 // negative for debits
}
