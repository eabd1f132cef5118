// Package security is the account security guard: login-attempt lockout,
// password-history reuse checks and per-user MFA settings.
package security

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

// Policy holds the lockout and password-history parameters.
type Policy struct {
	Window           time.Duration // failures older than this are forgotten
	Threshold        int           // failures within Window that lock the account
	ResetOnSuccess   bool          // a success clears earlier failures in the window
	AttemptRetention time.Duration // PruneAttempts horizon, at least Window
	HistoryDepth     int           // newest N hashes kept per user
	HistoryRetention time.Duration // hashes older than this are pruned
}

// DefaultPolicy returns 5 failures per hour, no reset on success, and the
// newest 12 passwords of the last 180 days.
func DefaultPolicy() Policy {
	return Policy{
		Window:           time.Hour,
		Threshold:        5,
		AttemptRetention: 30 * 24 * time.Hour,
		HistoryDepth:     12,
		HistoryRetention: 180 * 24 * time.Hour,
	}
}

// Observer is told about login attempts and lockouts.
type Observer interface {
	LoginAttempt(success bool)
	AccountLocked()
}

// Guard enforces the account security rules.
type Guard struct {
	db       *sql.DB
	verifier auth.CredentialVerifier
	engine   *authz.Engine
	recorder audit.Recorder
	clock    clock.Clock
	logger   *slog.Logger
	policy   Policy
	observer Observer
}

// Option configures a Guard.
type Option func(*Guard)

// WithPolicy overrides the default policy.
func WithPolicy(p Policy) Option {
	return func(g *Guard) { g.policy = p }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(g *Guard) { g.observer = o }
}

// NewGuard creates a Guard.
func NewGuard(db *sql.DB, verifier auth.CredentialVerifier, engine *authz.Engine, rec audit.Recorder, clk clock.Clock, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		db:       db,
		verifier: verifier,
		engine:   engine,
		recorder: rec,
		clock:    clk,
		logger:   logger,
		policy:   DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.policy.AttemptRetention < g.policy.Window {
		g.policy.AttemptRetention = g.policy.Window
	}
	return g
}

// Policy returns the active policy.
func (g *Guard) Policy() Policy { return g.policy }

// Attempt is one credential check.
type Attempt struct {
	Email          string
	IPAddress      string
	UserAgent      string
	Success        bool
	UserID         string // known identity, if any
	OrganizationID string // known organization, if any
}

// Status is the lockout state of an email.
type Status struct {
	Locked      bool       `json:"locked"`
	FailedCount int        `json:"failed_count"`
	Remaining   int        `json:"remaining"`
	UnlockAt    *time.Time `json:"unlock_at,omitempty"`
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RecordAttempt appends an attempt and returns the resulting status. The
// failure that takes the count to the threshold emits account_locked; later
// failures while still locked do not.
func (g *Guard) RecordAttempt(ctx context.Context, a Attempt) (Status, error) {
	email := normaliseEmail(a.Email)
	now := g.clock.Now()

	var before, after Status
	err := database.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		var err error
		if before, err = g.status(ctx, tx, email, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO login_attempts (email, ip_address, success, attempted_at) VALUES (?, ?, ?, ?)",
			email, database.NullString(a.IPAddress), database.BoolToInt(a.Success), database.FormatTime(now))
		if err != nil {
			return fmt.Errorf("recording login attempt: %w", err)
		}
		after, err = g.status(ctx, tx, email, now)
		return err
	})
	if err != nil {
		return Status{}, err
	}

	if g.observer != nil {
		g.observer.LoginAttempt(a.Success)
	}

	if !before.Locked && after.Locked {
		if g.observer != nil {
			g.observer.AccountLocked()
		}
		g.logger.Warn("account locked", "email", email, "failed_count", after.FailedCount, "ip", a.IPAddress)
		details := map[string]any{
			"email":        email,
			"failed_count": after.FailedCount,
			"window":       g.policy.Window.String(),
		}
		if after.UnlockAt != nil {
			details["unlock_at"] = after.UnlockAt.Format(time.RFC3339)
		}
		g.recorder.Record(ctx, audit.Event{
			UserID:         a.UserID,
			OrganizationID: a.OrganizationID,
			Type:           audit.EventAccountLocked,
			Resource:       "account:" + email,
			IPAddress:      a.IPAddress,
			UserAgent:      a.UserAgent,
			Success:        true,
			Details:        details,
		})
	}
	return after, nil
}

// CheckLockout returns the current lockout status of email.
func (g *Guard) CheckLockout(ctx context.Context, email string) (Status, error) {
	var st Status
	err := database.RetryRead(ctx, func() error {
		var err error
		st, err = g.status(ctx, g.db, normaliseEmail(email), g.clock.Now())
		return err
	})
	return st, err
}

// Unlock forgets the failures of email inside the current window and
// emits account_unlocked. Callers authorize the request.
func (g *Guard) Unlock(ctx context.Context, actor authz.Actor, email string) error {
	email = normaliseEmail(email)
	now := g.clock.Now()
	res, err := g.db.ExecContext(ctx,
		"DELETE FROM login_attempts WHERE email = ? AND success = 0 AND attempted_at > ?",
		email, database.FormatTime(now.Add(-g.policy.Window)))
	if err != nil {
		return fmt.Errorf("clearing login failures: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite

	g.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: actor.OrgID,
		Type:           audit.EventAccountUnlocked,
		Resource:       "account:" + email,
		Success:        true,
		Details:        map[string]any{"email": email, "cleared_failures": n},
	})
	return nil
}

// status derives the lockout state from the failures in the window ending
// at now. A failure exactly Window old has expired.
func (g *Guard) status(ctx context.Context, q database.Querier, email string, now time.Time) (Status, error) {
	since := database.FormatTime(now.Add(-g.policy.Window))

	if g.policy.ResetOnSuccess {
		var last sql.NullString
		err := q.QueryRowContext(ctx,
			"SELECT MAX(attempted_at) FROM login_attempts WHERE email = ? AND success = 1 AND attempted_at > ?",
			email, since).Scan(&last)
		if err != nil {
			return Status{}, fmt.Errorf("reading last success: %w", err)
		}
		if last.Valid && last.String > since {
			since = last.String
		}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT attempted_at FROM login_attempts
		 WHERE email = ? AND success = 0 AND attempted_at > ?
		 ORDER BY attempted_at, id`, email, since)
	if err != nil {
		return Status{}, fmt.Errorf("counting login failures: %w", err)
	}
	defer rows.Close()

	var failures []string
	for rows.Next() {
		var at string
		if err := rows.Scan(&at); err != nil {
			return Status{}, fmt.Errorf("scanning login failure: %w", err)
		}
		failures = append(failures, at)
	}
	if err := rows.Err(); err != nil {
		return Status{}, fmt.Errorf("iterating login failures: %w", err)
	}

	st := Status{FailedCount: len(failures), Remaining: max(0, g.policy.Threshold-len(failures))}
	if st.FailedCount >= g.policy.Threshold {
		st.Locked = true
		// The lock lifts when enough of the oldest failures age out to take
		// the count below the threshold.
		pivot, err := database.ParseTime(failures[st.FailedCount-g.policy.Threshold])
		if err != nil {
			return Status{}, err
		}
		unlock := pivot.Add(g.policy.Window)
		st.UnlockAt = &unlock
	}
	return st, nil
}

// PruneAttempts deletes login attempts older than the retention horizon.
func (g *Guard) PruneAttempts(ctx context.Context) (int64, error) {
	cutoff := g.clock.Now().Add(-g.policy.AttemptRetention)
	res, err := g.db.ExecContext(ctx,
		"DELETE FROM login_attempts WHERE attempted_at <= ?", database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning login attempts: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
