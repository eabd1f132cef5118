package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
)

// Recorder accepts audit events. Recording never fails the caller: write
// errors go to the operational log instead.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Sink receives a copy of every recorded event, e.g. a time-series store.
type Sink interface {
	WriteSecurityEvent(e Event)
}

// Observer is notified of audit write failures and dropped events.
type Observer interface {
	AuditWriteFailed(eventType string)
	AuditDropped(eventType string)
}

// Logger writes events synchronously to a Repository and fans them out to
// any configured sinks.
type Logger struct {
	repo     Repository
	clock    clock.Clock
	logger   *slog.Logger
	sinks    []Sink
	observer Observer
}

var _ Recorder = (*Logger)(nil)

// Option configures a Logger.
type Option func(*Logger)

// WithSink adds a sink that receives every event after it is stored.
func WithSink(s Sink) Option {
	return func(l *Logger) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithObserver sets the failure observer.
func WithObserver(o Observer) Option {
	return func(l *Logger) { l.observer = o }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Logger) { l.clock = c }
}

// NewLogger creates a Logger backed by repo.
func NewLogger(repo Repository, logger *slog.Logger, opts ...Option) *Logger {
	l := &Logger{
		repo:   repo,
		clock:  clock.System{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stamps and stores e. The write is detached from ctx cancellation
// so an aborted request still leaves its trail.
func (l *Logger) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	}

	if err := l.repo.Create(context.WithoutCancel(ctx), &e); err != nil {
		l.logger.Error("audit write failed",
			"type", string(e.Type),
			"organization_id", e.OrganizationID,
			"user_id", e.UserID,
			"error", err,
		)
		if l.observer != nil {
			l.observer.AuditWriteFailed(string(e.Type))
		}
	}

	for _, s := range l.sinks {
		s.WriteSecurityEvent(e)
	}
}

// Query returns events of one organization. Callers are responsible for
// checking that the requester may read that organization's trail.
func (l *Logger) Query(ctx context.Context, orgID string, filter Filter) (*ListResult, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", apperr.ErrInvalidInput)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", apperr.ErrInvalidInput, filter.Type)
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Since.Before(filter.Until) {
		return nil, fmt.Errorf("%w: since must be before until", apperr.ErrInvalidInput)
	}
	return l.repo.List(ctx, orgID, filter)
}

// Sweep deletes events older than retention and records the deletion count
// as an audit_retention event.
func (l *Logger) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("audit retention must be positive")
	}
	cutoff := l.clock.Now().Add(-retention)

	n, err := l.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	l.Record(ctx, Event{
		Type:    EventAuditRetention,
		Success: true,
		Details: map[string]any{
			"deleted": n,
			"cutoff":  cutoff.Format(time.RFC3339),
		},
	})
	return n, nil
}
