// Package sweeper runs the periodic retention jobs: invitation expiry,
// session expiry, audit retention and login-attempt and password-history
// pruning.
//
// Jobs run sequentially on one goroutine so they never contend for the
// single SQLite writer. A failing job is logged and the rest still run.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
)

// DefaultInterval is used when a non-positive interval is configured.
const DefaultInterval = time.Hour

// Standard job names.
const (
	JobInvitationExpiry = "invitation_expiry"
	JobSessions         = "sessions"
	JobAuditRetention   = "audit_retention"
	JobLoginAttempts    = "login_attempts"
	JobPasswordHistory  = "password_history"
)

// Func removes or expires rows and reports how many.
type Func func(ctx context.Context) (int64, error)

// Job is a named sweep.
type Job struct {
	Name string
	Run  Func
}

// Observer receives per-job outcomes.
type Observer interface {
	SweepCompleted(job string, removed int64)
	SweepFailed(job string)
}

// Sink mirrors sweep counts to a time series store.
type Sink interface {
	WriteSweep(job string, removed int64, at time.Time)
}

// Result is the outcome of one job in one pass.
type Result struct {
	Job     string
	Removed int64
	Err     error
}

// Sweeper runs its jobs on an interval.
type Sweeper struct {
	jobs     []Job
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	sinks    []Sink
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Sweeper) { s.observer = o }
}

// WithSink adds a time series sink.
func WithSink(sink Sink) Option {
	return func(s *Sweeper) { s.sinks = append(s.sinks, sink) }
}

// WithClock overrides the clock used to stamp sink writes.
func WithClock(c clock.Clock) Option {
	return func(s *Sweeper) { s.clock = c }
}

// New creates a Sweeper running jobs in the given order.
func New(interval time.Duration, logger *slog.Logger, jobs []Job, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		jobs:     jobs,
		interval: interval,
		clock:    clock.System{},
		logger:   logger.With("component", "sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", "interval", s.interval.String(), "jobs", len(s.jobs))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once and returns their results in job order.
func (s *Sweeper) RunOnce(ctx context.Context) []Result {
	results := make([]Result, 0, len(s.jobs))
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.runJob(ctx, job))
	}
	return results
}

func (s *Sweeper) runJob(ctx context.Context, job Job) (res Result) {
	res.Job = job.Name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep job panicked", "job", job.Name, "panic", r)
			res.Err = errPanic
			if s.observer != nil {
				s.observer.SweepFailed(job.Name)
			}
		}
	}()

	n, err := job.Run(ctx)
	if err != nil {
		res.Err = err
		s.logger.Error("sweep job failed", "job", job.Name, "error", err)
		if s.observer != nil {
			s.observer.SweepFailed(job.Name)
		}
		return res
	}

	res.Removed = n
	s.logger.Info("sweep job complete",
		"job", job.Name,
		"deleted_count", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if s.observer != nil {
		s.observer.SweepCompleted(job.Name, n)
	}
	now := s.clock.Now()
	for _, sink := range s.sinks {
		sink.WriteSweep(job.Name, n, now)
	}
	return res
}
