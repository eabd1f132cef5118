package security

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// MFAMethod is a second-factor channel.
type MFAMethod string

// MFA methods.
const (
	MFATOTP MFAMethod = "totp"
	MFASMS  MFAMethod = "sms"
)

// MFASettings are one user's second-factor flags. SecretRef points at
// secret material held elsewhere; the secret itself is never stored here.
type MFASettings struct {
	UserID               string     `json:"user_id"`
	TOTPEnabled          bool       `json:"totp_enabled"`
	SMSEnabled           bool       `json:"sms_enabled"`
	SecretRef            string     `json:"-"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Enabled reports whether any method is on.
func (s *MFASettings) Enabled() bool {
	return s.TOTPEnabled || s.SMSEnabled
}

// InsertDefaultMFASettings creates disabled settings for userID. It runs on
// q so invitation acceptance can include it in its transaction.
func InsertDefaultMFASettings(ctx context.Context, q database.Querier, userID string, now time.Time) error {
	ts := database.FormatTime(now)
	_, err := q.ExecContext(ctx,
		`INSERT INTO mfa_settings (user_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`, userID, ts, ts)
	if err != nil {
		return fmt.Errorf("creating mfa settings: %w", err)
	}
	return nil
}

func getMFASettings(ctx context.Context, q database.Querier, userID string) (*MFASettings, error) {
	var s MFASettings
	var totp, sms int
	var secret, lastUsed sql.NullString
	var createdAt, updatedAt string

	err := q.QueryRowContext(ctx,
		`SELECT user_id, totp_enabled, sms_enabled, secret_ref, backup_codes_remaining,
		        last_used_at, created_at, updated_at
		 FROM mfa_settings WHERE user_id = ?`, userID,
	).Scan(&s.UserID, &totp, &sms, &secret, &s.BackupCodesRemaining, &lastUsed, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mfa settings %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("reading mfa settings: %w", err)
	}
	s.TOTPEnabled = totp != 0
	s.SMSEnabled = sms != 0
	s.SecretRef = secret.String

	if s.LastUsedAt, err = database.ParseNullTime(lastUsed); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func putMFASettings(ctx context.Context, q database.Querier, s *MFASettings) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO mfa_settings (user_id, totp_enabled, sms_enabled, secret_ref,
		                           backup_codes_remaining, last_used_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     totp_enabled = excluded.totp_enabled,
		     sms_enabled = excluded.sms_enabled,
		     secret_ref = excluded.secret_ref,
		     backup_codes_remaining = excluded.backup_codes_remaining,
		     last_used_at = excluded.last_used_at,
		     updated_at = excluded.updated_at`,
		s.UserID, database.BoolToInt(s.TOTPEnabled), database.BoolToInt(s.SMSEnabled),
		database.NullString(s.SecretRef), s.BackupCodesRemaining, database.NullTime(s.LastUsedAt),
		database.FormatTime(s.CreatedAt), database.FormatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving mfa settings: %w", err)
	}
	return nil
}

// loadOrDefault returns the stored settings or fresh disabled ones.
func (g *Guard) loadOrDefault(ctx context.Context, userID string) (*MFASettings, error) {
	s, err := getMFASettings(ctx, g.db, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		now := g.clock.Now()
		return &MFASettings{UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
	}
	return s, err
}

// GetMFASettings returns the settings of userID. Members read their own;
// admins read those of members in their organization.
func (g *Guard) GetMFASettings(ctx context.Context, actor authz.Actor, userID string) (*MFASettings, error) {
	if actor.UserID != userID {
		target, err := tenancy.GetMembership(ctx, g.db, userID)
		if err != nil {
			return nil, err
		}
		if err := g.engine.Authorize(ctx, actor, target.OrganizationID, authz.ActionMFAReset, "mfa:"+userID); err != nil {
			return nil, err
		}
	}
	return g.loadOrDefault(ctx, userID)
}

// MFAForLogin returns the settings used during login, without actor checks.
func (g *Guard) MFAForLogin(ctx context.Context, userID string) (*MFASettings, error) {
	return g.loadOrDefault(ctx, userID)
}

// EnableMFA turns on method for the actor. Only the owner may do this.
func (g *Guard) EnableMFA(ctx context.Context, actor authz.Actor, method MFAMethod, secretRef string, backupCodes int) (*MFASettings, error) {
	if secretRef == "" || backupCodes < 0 {
		return nil, fmt.Errorf("%w: secret reference required", apperr.ErrInvalidInput)
	}
	s, err := g.loadOrDefault(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	switch method {
	case MFATOTP:
		s.TOTPEnabled = true
	case MFASMS:
		s.SMSEnabled = true
	default:
		return nil, fmt.Errorf("%w: unknown mfa method %q", apperr.ErrInvalidInput, method)
	}
	s.SecretRef = secretRef
	s.BackupCodesRemaining = backupCodes
	s.UpdatedAt = g.clock.Now()
	if err := putMFASettings(ctx, g.db, s); err != nil {
		return nil, err
	}

	g.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: actor.OrgID,
		Type:           audit.EventMFAEnabled,
		Resource:       "mfa:" + actor.UserID,
		Success:        true,
		Details:        map[string]any{"method": string(method)},
	})
	return s, nil
}

// DisableMFA turns off method for the actor. When no method remains the
// secret reference is cleared.
func (g *Guard) DisableMFA(ctx context.Context, actor authz.Actor, method MFAMethod) (*MFASettings, error) {
	s, err := g.loadOrDefault(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	switch method {
	case MFATOTP:
		s.TOTPEnabled = false
	case MFASMS:
		s.SMSEnabled = false
	default:
		return nil, fmt.Errorf("%w: unknown mfa method %q", apperr.ErrInvalidInput, method)
	}
	if !s.Enabled() {
		s.SecretRef = ""
		s.BackupCodesRemaining = 0
	}
	s.UpdatedAt = g.clock.Now()
	if err := putMFASettings(ctx, g.db, s); err != nil {
		return nil, err
	}

	g.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: actor.OrgID,
		Type:           audit.EventMFADisabled,
		Resource:       "mfa:" + actor.UserID,
		Success:        true,
		Details:        map[string]any{"method": string(method)},
	})
	return s, nil
}

// ResetMFA clears every method and the secret reference of userID, forcing
// re-enrolment. Admins of the member's organization only.
func (g *Guard) ResetMFA(ctx context.Context, actor authz.Actor, userID string) error {
	target, err := tenancy.GetMembership(ctx, g.db, userID)
	if err != nil {
		return err
	}
	if err := g.engine.Authorize(ctx, actor, target.OrganizationID, authz.ActionMFAReset, "mfa:"+userID); err != nil {
		return err
	}

	s, err := g.loadOrDefault(ctx, userID)
	if err != nil {
		return err
	}
	s.TOTPEnabled, s.SMSEnabled = false, false
	s.SecretRef = ""
	s.BackupCodesRemaining = 0
	s.UpdatedAt = g.clock.Now()
	if err := putMFASettings(ctx, g.db, s); err != nil {
		return err
	}

	g.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: target.OrganizationID,
		Type:           audit.EventMFAReset,
		Resource:       "mfa:" + userID,
		Success:        true,
		Details:        map[string]any{"target": userID},
	})
	return nil
}

// MarkMFAUsed stamps a successful second-factor check.
func (g *Guard) MarkMFAUsed(ctx context.Context, userID string) error {
	_, err := g.db.ExecContext(ctx,
		"UPDATE mfa_settings SET last_used_at = ?, updated_at = ? WHERE user_id = ?",
		database.FormatTime(g.clock.Now()), database.FormatTime(g.clock.Now()), userID)
	if err != nil {
		return fmt.Errorf("marking mfa used: %w", err)
	}
	return nil
}
