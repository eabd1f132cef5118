package audit

import (
	"context"
	"log/slog"
)

// DefaultQueueSize is the buffer used when NewAsyncLogger is given zero.
const DefaultQueueSize = 256

// AsyncLogger queues events for a single writer goroutine. When the queue
// is full the event is dropped and a warning logged, so callers never block
// on the database.
type AsyncLogger struct {
	next     Recorder
	ch       chan queued
	logger   *slog.Logger
	observer Observer
}

type queued struct {
	ctx context.Context //nolint:containedctx // carried to the writer detached from cancellation
	ev  Event
}

var _ Recorder = (*AsyncLogger)(nil)

// NewAsyncLogger wraps next with a bounded queue.
func NewAsyncLogger(next Recorder, size int, logger *slog.Logger, observer Observer) *AsyncLogger {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &AsyncLogger{
		next:     next,
		ch:       make(chan queued, size),
		logger:   logger,
		observer: observer,
	}
}

// Record enqueues e for asynchronous write (best-effort).
func (a *AsyncLogger) Record(ctx context.Context, e Event) {
	select {
	case a.ch <- queued{ctx: context.WithoutCancel(ctx), ev: e}:
	default:
		a.logger.Warn("audit queue full, dropping event",
			"type", string(e.Type),
			"organization_id", e.OrganizationID,
		)
		if a.observer != nil {
			a.observer.AuditDropped(string(e.Type))
		}
	}
}

// Run writes queued events serially until ctx is cancelled, then drains
// whatever is left before returning.
func (a *AsyncLogger) Run(ctx context.Context) {
	for {
		select {
		case q := <-a.ch:
			a.next.Record(q.ctx, q.ev)
		case <-ctx.Done():
			for {
				select {
				case q := <-a.ch:
					a.next.Record(q.ctx, q.ev)
				default:
					return
				}
			}
		}
	}
}

// Pending returns the number of queued events.
func (a *AsyncLogger) Pending() int {
	return len(a.ch)
}
