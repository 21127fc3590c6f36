// Package model defines the core data structures for the autopay application.
package model

import (
	"crypto/sha1" //nolint:gosec // identifier derivation, not a security boundary
	"fmt"
	"strings"
	"time"
)

// InboundMessage is a single email delivered by a mail source.
type InboundMessage struct {
	ReceivedAt time.Time
	Headers    map[string][]string // keys are lower-cased header names
	ID         string
	From       string
	Subject    string
	Body       string
	Account    string // mail account the message was fetched from
}

// Header returns all values of the named header, matching case-insensitively.
func (m InboundMessage) Header(name string) []string {
	if m.Headers == nil {
		return nil
	}
	return m.Headers[strings.ToLower(name)]
}

// NormalizedID returns the message ID with surrounding whitespace and angle brackets
// removed. Messages without an ID get a deterministic one derived from sender,
// subject and receipt time, so a redelivery still deduplicates.
func (m InboundMessage) NormalizedID() string {
	id := strings.TrimSpace(m.ID)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	if id != "" {
		return id
	}

	data := fmt.Sprintf("%s|%s|%s",
		strings.ToLower(m.From),
		m.Subject,
		m.ReceivedAt.UTC().Format(time.RFC3339))
	sum := sha1.Sum([]byte(data)) //nolint:gosec // see import
	return fmt.Sprintf("generated-%x", sum)
}

// OutcomeStatus is the result of running one action against one message.
type OutcomeStatus string

// Outcome statuses.
const (
	// OutcomeSuccess means the action produced a payment, a job, or handled the message.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeNone means the action ran but decided there was nothing to do.
	OutcomeNone OutcomeStatus = "false"
	// OutcomeError means the action failed; Error carries the reason.
	OutcomeError OutcomeStatus = "error"
)

// ActionOutcome records what a single action did for a message.
type ActionOutcome struct {
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Info      string        `json:"info,omitempty"`
	PaymentID string        `json:"payment_id,omitempty"`
	JobID     string        `json:"job_id,omitempty"`
}

// ProcessedMessage is the persisted proof that a message has been handled.
// Its existence for a message ID is the only guard against reprocessing.
type ProcessedMessage struct {
	Date      time.Time
	Actions   map[string]ActionOutcome
	MessageID string
	From      string
	Subject   string
}

// NewProcessedMessage creates an empty record for a message.
func NewProcessedMessage(msg InboundMessage) *ProcessedMessage {
	date := msg.ReceivedAt
	if date.IsZero() {
		date = time.Now()
	}
	return &ProcessedMessage{
		MessageID: msg.NormalizedID(),
		From:      msg.From,
		Subject:   msg.Subject,
		Date:      date,
		Actions:   make(map[string]ActionOutcome),
	}
}
