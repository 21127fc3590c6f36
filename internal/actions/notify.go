package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/autopay/internal/model"
)

// Notify queues an email or push notification about the message.
type Notify struct {
	deps Deps
}

// DefaultRule sends a push notification right away.
func (n *Notify) DefaultRule() model.Rule {
	return model.Rule{Options: map[string]any{"channel": string(model.JobPush)}}
}

// Handle returns a notification job. delay_minutes postpones it.
func (n *Notify) Handle(_ context.Context, msg model.InboundMessage, rule model.Rule) (Result, error) {
	channel := model.JobType(rule.OptString("channel"))
	if channel != model.JobEmail && channel != model.JobPush {
		return Failed(fmt.Sprintf("unsupported notification channel %q", channel)), nil
	}

	subject := rule.OptString("subject")
	if subject == "" {
		subject = msg.Subject
	}
	message := rule.OptString("message")
	if message == "" {
		message = fmt.Sprintf("New message from %s: %s", msg.From, msg.Subject)
	}

	delay := rule.OptInt("delay_minutes", 0)
	if delay < 0 {
		delay = 0
	}

	now := n.deps.Now()
	return Result{Job: &model.ScheduledJob{
		ID:           n.deps.NewID(),
		Title:        subject,
		Type:         channel,
		Date:         now.Add(time.Duration(delay) * time.Minute),
		CreatedAt:    now,
		Notification: &model.Notification{Subject: subject, Message: message},
	}}, nil
}

// Ignore matches a message and records it without doing anything else.
type Ignore struct{}

// DefaultRule has no defaults.
func (Ignore) DefaultRule() model.Rule {
	return model.Rule{}
}

// Handle always reports the message as handled.
func (Ignore) Handle(_ context.Context, msg model.InboundMessage, rule model.Rule) (Result, error) {
	reason := rule.OptString("reason")
	if reason == "" {
		reason = "ignored"
	}
	return Result{Info: reason}, nil
}
