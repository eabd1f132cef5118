package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// Observer is told about session creation and termination.
type Observer interface {
	SessionCreated()
	SessionsRevoked(n int)
}

// Manager owns the session lifecycle.
type Manager struct {
	db       *sql.DB
	engine   *authz.Engine
	recorder audit.Recorder
	clock    clock.Clock
	logger   *slog.Logger
	policy   Policy
	observer Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides the default lifetime policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager.
func NewManager(db *sql.DB, engine *authz.Engine, rec audit.Recorder, clk clock.Clock, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:       db,
		engine:   engine,
		recorder: rec,
		clock:    clk,
		logger:   logger,
		policy:   DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a session for an active member of in.OrganizationID, emits
// login and returns the session with its raw token. The token is shown once.
func (m *Manager) Create(ctx context.Context, in NewSession) (*Session, string, error) {
	member, err := tenancy.GetMembership(ctx, m.db, in.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, "", fmt.Errorf("no membership for %s: %w", in.UserID, apperr.ErrForbidden)
		}
		return nil, "", err
	}
	if member.OrganizationID != in.OrganizationID || !member.IsActive {
		return nil, "", fmt.Errorf("membership of %s in %s: %w", in.UserID, in.OrganizationID, apperr.ErrForbidden)
	}
	if err := in.DeviceInfo.Validate(); err != nil {
		return nil, "", err
	}

	now := m.clock.Now()
	s := &Session{
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		DeviceInfo:     in.DeviceInfo,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		ExpiresAt:      m.policy.expiry(now, now),
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
	}

	// A token-hash collision is astronomically unlikely; one retry with
	// fresh randomness is enough.
	var token string
	for attempt := 0; attempt < 2; attempt++ {
		token, err = auth.GenerateToken()
		if err != nil {
			return nil, "", err
		}
		s.ID = "ses-" + uuid.NewString()
		err = insertSession(ctx, m.db, s, auth.HashToken(token))
		if err == nil || !database.IsUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("creating session: %w", err)
	}

	if m.observer != nil {
		m.observer.SessionCreated()
	}
	m.recorder.Record(ctx, audit.Event{
		UserID:         s.UserID,
		OrganizationID: s.OrganizationID,
		Type:           audit.EventLogin,
		Resource:       "session:" + s.ID,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		Success:        true,
	})
	return s, token, nil
}

// Touch records activity on the session behind token and slides its
// expiry to min(now+idle, created+max).
func (m *Manager) Touch(ctx context.Context, token string) (*Session, error) {
	var s *Session
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		s, err = getByTokenHash(ctx, tx, auth.HashToken(token))
		if err != nil {
			return err
		}
		now := m.clock.Now()
		if !s.Live(now) {
			return apperr.ErrSessionExpired
		}
		s.LastActivityAt = now
		s.ExpiresAt = m.policy.expiry(s.CreatedAt, now)
		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET last_activity_at = ?, expires_at = ? WHERE id = ?",
			database.FormatTime(s.LastActivityAt), database.FormatTime(s.ExpiresAt), s.ID)
		if err != nil {
			return fmt.Errorf("touching session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticate returns the live session behind token without changing it.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Session, error) {
	return m.live(ctx, func() (*Session, error) {
		return getByTokenHash(ctx, m.db, auth.HashToken(token))
	})
}

// AuthenticateID returns the live session with the given id. Access tokens
// carry the id rather than the raw token.
func (m *Manager) AuthenticateID(ctx context.Context, id string) (*Session, error) {
	return m.live(ctx, func() (*Session, error) {
		return getByID(ctx, m.db, id)
	})
}

func (m *Manager) live(ctx context.Context, load func() (*Session, error)) (*Session, error) {
	var s *Session
	err := database.RetryRead(ctx, func() error {
		var err error
		s, err = load()
		return err
	})
	if err != nil {
		return nil, err
	}
	if !s.Live(m.clock.Now()) {
		return nil, apperr.ErrSessionExpired
	}
	return s, nil
}

// Revoke terminates the session behind token and emits logout. Revoking
// an already terminated session is a no-op.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	s, err := getByTokenHash(ctx, m.db, auth.HashToken(token))
	if err != nil {
		return err
	}
	return m.terminate(ctx, s, s.UserID, "logout")
}

// RevokeByID terminates one session. Members end their own sessions;
// admins end sessions of members in their organization.
func (m *Manager) RevokeByID(ctx context.Context, actor authz.Actor, id string) error {
	s, err := getByID(ctx, m.db, id)
	if err != nil {
		return err
	}
	if s.UserID != actor.UserID || s.OrganizationID != actor.OrgID {
		if err := m.engine.Authorize(ctx, actor, s.OrganizationID, authz.ActionSessionRevokeOthers, "session:"+s.ID); err != nil {
			return err
		}
	}
	return m.terminate(ctx, s, actor.UserID, "revoked")
}

func (m *Manager) terminate(ctx context.Context, s *Session, by, reason string) error {
	if !s.IsActive {
		return nil
	}
	now := m.clock.Now()
	if _, err := m.db.ExecContext(ctx,
		"UPDATE sessions SET is_active = 0, terminated_at = ? WHERE id = ? AND is_active = 1",
		database.FormatTime(now), s.ID); err != nil {
		return fmt.Errorf("terminating session: %w", err)
	}
	s.IsActive = false
	s.TerminatedAt = &now

	if m.observer != nil {
		m.observer.SessionsRevoked(1)
	}
	m.recorder.Record(ctx, audit.Event{
		UserID:         by,
		OrganizationID: s.OrganizationID,
		Type:           audit.EventLogout,
		Resource:       "session:" + s.ID,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		Success:        true,
		Details:        map[string]any{"reason": reason, "session_user": s.UserID},
	})
	return nil
}

// RevokeAll terminates every active session of identityID and emits one
// logout event. Admins may do this for members of their organization.
func (m *Manager) RevokeAll(ctx context.Context, actor authz.Actor, identityID string) (int64, error) {
	orgID := actor.OrgID
	if identityID != actor.UserID {
		member, err := tenancy.GetMembership(ctx, m.db, identityID)
		if err != nil {
			return 0, err
		}
		orgID = member.OrganizationID
		if err := m.engine.Authorize(ctx, actor, orgID, authz.ActionSessionRevokeOthers, "membership:"+identityID); err != nil {
			return 0, err
		}
	}

	res, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, terminated_at = ?
		 WHERE user_id = ? AND organization_id = ? AND is_active = 1`,
		database.FormatTime(m.clock.Now()), identityID, orgID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite

	if m.observer != nil {
		m.observer.SessionsRevoked(int(n))
	}
	m.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: orgID,
		Type:           audit.EventLogout,
		Resource:       "membership:" + identityID,
		Success:        true,
		Details:        map[string]any{"reason": "revoke_all", "session_user": identityID, "count": n},
	})
	return n, nil
}

// List returns the live sessions of identityID. The caller may only list
// their own sessions in their own organization; any other combination is
// forbidden, whatever orgFilter says.
func (m *Manager) List(ctx context.Context, caller authz.Actor, identityID, orgFilter string) ([]Session, error) {
	if caller.UserID != identityID || (orgFilter != "" && orgFilter != caller.OrgID) {
		return nil, m.engine.Deny(ctx, caller, "list_sessions", caller.Role, "membership:"+identityID, apperr.ErrForbidden)
	}
	return m.list(ctx, identityID, caller.OrgID)
}

// ListForMember lets an admin see the live sessions of a member of their
// own organization.
func (m *Manager) ListForMember(ctx context.Context, actor authz.Actor, identityID string) ([]Session, error) {
	member, err := tenancy.GetMembership(ctx, m.db, identityID)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Authorize(ctx, actor, member.OrganizationID, authz.ActionSessionListOthers, "membership:"+identityID); err != nil {
		return nil, err
	}
	return m.list(ctx, identityID, member.OrganizationID)
}

func (m *Manager) list(ctx context.Context, identityID, orgID string) ([]Session, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND organization_id = ? AND is_active = 1 AND expires_at >= ?
		 ORDER BY last_activity_at DESC, id`,
		identityID, orgID, database.FormatTime(m.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Sweep deletes expired sessions and sessions idle past the inactivity
// threshold, then emits one session_sweep summary with the count removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	now := m.clock.Now()
	res, err := m.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at < ? OR last_activity_at <= ?",
		database.FormatTime(now), database.FormatTime(now.Add(-m.policy.InactivityThreshold)))
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite

	m.recorder.Record(ctx, audit.Event{
		UserID:  authz.System.UserID,
		Type:    audit.EventSessionSweep,
		Success: true,
		Details: map[string]any{"deleted_count": n},
	})
	return n, nil
}

// Policy returns the lifetime policy.
func (m *Manager) Policy() Policy { return m.policy }
