package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher defaults.
const (
	DefaultQueueSize = 128
	DefaultWorkers   = 2

	deliveryTimeout = 30 * time.Second
)

// Observer is told about delivery outcomes.
type Observer interface {
	NotificationDelivered(kind string, ok bool)
	NotificationDropped(kind string)
}

// Dispatcher queues messages and delivers them on worker goroutines.
type Dispatcher struct {
	next     Notifier
	queue    chan Message
	workers  int
	logger   *slog.Logger
	observer Observer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver sets the delivery observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a dispatcher with a queue of size and the given
// number of workers. Non-positive values fall back to the defaults.
func NewDispatcher(next Notifier, size, workers int, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d := &Dispatcher{
		next:    next,
		queue:   make(chan Message, size),
		workers: workers,
		logger:  logger.With("component", "notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue queues msg without blocking. It reports false when the message
// was rejected or dropped because the queue is full.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if msg.ID == "" {
		msg.ID = "ntf-" + uuid.NewString()
	}
	if err := msg.validate(); err != nil {
		d.logger.Warn("notification rejected", "id", msg.ID, "error", err)
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warn("notification queue full, dropping message",
			"id", msg.ID, "kind", string(msg.Kind))
		if d.observer != nil {
			d.observer.NotificationDropped(string(msg.Kind))
		}
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled, then delivers
// whatever is still queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-d.queue:
					d.deliver(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	d.drain()
	return nil
}

func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	err := d.next.Notify(ctx, msg)
	if d.observer != nil {
		d.observer.NotificationDelivered(string(msg.Kind), err == nil)
	}
	if err != nil {
		d.logger.Error("notification delivery failed",
			"id", msg.ID, "kind", string(msg.Kind), "error", err)
		return
	}
	d.logger.Debug("notification delivered", "id", msg.ID, "kind", string(msg.Kind))
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
