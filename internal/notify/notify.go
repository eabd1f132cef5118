// Package notify delivers invitation and security emails and alerts.
//
// Producers hand a Message to a Dispatcher, which queues it and returns
// immediately. Worker goroutines deliver through a Notifier (email, MQTT,
// log or a fan-out of these). Delivery failures are logged and never reach
// the producer: an invitation exists and is redeemable whether or not its
// email was sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies a notification.
type Kind string

// Notification kinds.
const (
	KindInvitation    Kind = "invitation"
	KindSecurityAlert Kind = "security_alert"
)

// Message is one notification. Data carries template values; it never holds
// raw passwords, and the only token it may carry is inside an invitation link.
type Message struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	To             string         `json:"to"`
	Subject        string         `json:"subject"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Notifier delivers a message synchronously.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogTransport writes messages to the operational log. It is the fallback
// when no real transport is configured, and omits Data so invitation links
// stay out of logs.
type LogTransport struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogTransport) Notify(_ context.Context, msg Message) error {
	l.Logger.Info("notification",
		"id", msg.ID,
		"kind", string(msg.Kind),
		"to", msg.To,
		"subject", msg.Subject,
		"organization_id", msg.OrganizationID,
	)
	return nil
}

func (m Message) validate() error {
	if m.To == "" {
		return fmt.Errorf("notification %s has no recipient", m.ID)
	}
	switch m.Kind {
	case KindInvitation, KindSecurityAlert:
		return nil
	default:
		return fmt.Errorf("unknown notification kind %q", m.Kind)
	}
}
