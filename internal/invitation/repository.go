package invitation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

const invitationColumns = `id, organization_id, email, role, region_id, expires_at, invited_by,
	status, metadata, accepted_at, accepted_by, revoked_at, revoked_by, revoke_reason,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func insertInvitation(ctx context.Context, q database.Querier, inv *Invitation, tokenHash string) error {
	meta, err := tenancy.EncodeAttributes(inv.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO invitations (`+invitationColumns+`, token_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OrganizationID, inv.Email, string(inv.Role), database.NullString(inv.RegionID),
		database.FormatTime(inv.ExpiresAt), inv.InvitedBy, string(inv.Status), meta,
		database.NullTime(inv.AcceptedAt), database.NullString(inv.AcceptedBy),
		database.NullTime(inv.RevokedAt), database.NullString(inv.RevokedBy),
		database.NullString(inv.RevokeReason),
		database.FormatTime(inv.CreatedAt), database.FormatTime(inv.UpdatedAt), tokenHash,
	)
	return err
}

func getByTokenHash(ctx context.Context, q database.Querier, tokenHash string) (*Invitation, error) {
	return scanInvitation(q.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE token_hash = ?", tokenHash))
}

func getByID(ctx context.Context, q database.Querier, id string) (*Invitation, error) {
	return scanInvitation(q.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE id = ?", id))
}

func pendingExists(ctx context.Context, q database.Querier, orgID, email string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM invitations WHERE organization_id = ? AND email = ? AND status = 'pending'",
		orgID, email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking pending invitations: %w", err)
	}
	return n > 0, nil
}

// expireStale flips pending rows for (orgID, email) that are past expiry.
func expireStale(ctx context.Context, q database.Querier, orgID, email string, now time.Time) error {
	ts := database.FormatTime(now)
	_, err := q.ExecContext(ctx,
		`UPDATE invitations SET status = 'expired', updated_at = ?
		 WHERE organization_id = ? AND email = ? AND status = 'pending' AND expires_at <= ?`,
		ts, orgID, email, ts)
	if err != nil {
		return fmt.Errorf("expiring stale invitations: %w", err)
	}
	return nil
}

// transition moves the invitation from pending to status. It reports false
// when the row was no longer pending, which makes it the compare-and-set
// point for concurrent accept and revoke.
func transition(ctx context.Context, q database.Querier, id string, status Status, set string, args ...any) (bool, error) {
	query := "UPDATE invitations SET status = ?, " + set + " WHERE id = ? AND status = 'pending'"
	full := append([]any{string(status)}, args...)
	full = append(full, id)
	res, err := q.ExecContext(ctx, query, full...)
	if err != nil {
		return false, fmt.Errorf("updating invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating invitation: %w", err)
	}
	return n == 1, nil
}

func scanInvitation(s scanner) (*Invitation, error) {
	var inv Invitation
	var role, status, expiresAt, createdAt, updatedAt string
	var region, meta, acceptedAt, acceptedBy, revokedAt, revokedBy, reason sql.NullString

	err := s.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &role, &region, &expiresAt,
		&inv.InvitedBy, &status, &meta, &acceptedAt, &acceptedBy, &revokedAt, &revokedBy,
		&reason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invitation %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning invitation: %w", err)
	}

	inv.Role = authz.Role(role)
	inv.Status = Status(status)
	inv.RegionID = region.String
	inv.AcceptedBy = acceptedBy.String
	inv.RevokedBy = revokedBy.String
	inv.RevokeReason = reason.String

	if inv.Metadata, err = tenancy.DecodeAttributes(meta.String); err != nil {
		return nil, err
	}
	if inv.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, err
	}
	if inv.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if inv.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if inv.AcceptedAt, err = database.ParseNullTime(acceptedAt); err != nil {
		return nil, err
	}
	if inv.RevokedAt, err = database.ParseNullTime(revokedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}
