package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

// The functions in this file take a database.Querier so callers can run
// them inside their own transaction.

const organizationColumns = `id, name, slug, subscription_tier, mfa_required, max_users,
	settings, created_at, updated_at`

const membershipColumns = `id, organization_id, role, region_id, last_login_at, last_activity_at,
	is_active, preferences, device_info, created_at, updated_at`

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func insertOrganization(ctx context.Context, q database.Querier, o *Organization) error {
	settings, err := EncodeAttributes(o.Settings)
	if err != nil {
		return err
	}
	ts := database.FormatTime(o.CreatedAt)
	_, err = q.ExecContext(ctx,
		`INSERT INTO organizations (`+organizationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.Slug, o.SubscriptionTier, database.BoolToInt(o.MFARequired),
		o.MaxUsers, settings, ts, ts,
	)
	if err != nil {
		if database.IsUniqueViolationOn(err, "organizations.slug") {
			return fmt.Errorf("slug %q: %w", o.Slug, apperr.ErrDuplicateSlug)
		}
		return fmt.Errorf("inserting organization: %w", err)
	}
	return nil
}

// GetOrganization loads an organization by id.
func GetOrganization(ctx context.Context, q database.Querier, id string) (*Organization, error) {
	return scanOrganization(q.QueryRowContext(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE id = ?", id))
}

func getOrganizationBySlug(ctx context.Context, q database.Querier, slug string) (*Organization, error) {
	return scanOrganization(q.QueryRowContext(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE slug = ?", slug))
}

func updateOrganization(ctx context.Context, q database.Querier, o *Organization) error {
	settings, err := EncodeAttributes(o.Settings)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE organizations SET name = ?, subscription_tier = ?, mfa_required = ?, max_users = ?,
		        settings = ?, updated_at = ?
		 WHERE id = ?`,
		o.Name, o.SubscriptionTier, database.BoolToInt(o.MFARequired), o.MaxUsers,
		settings, database.FormatTime(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return fmt.Errorf("updating organization: %w", err)
	}
	return nil
}

func countOrganizations(ctx context.Context, q database.Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM organizations").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting organizations: %w", err)
	}
	return n, nil
}

func scanOrganization(s scanner) (*Organization, error) {
	var o Organization
	var mfa int
	var settings sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&o.ID, &o.Name, &o.Slug, &o.SubscriptionTier, &mfa, &o.MaxUsers,
		&settings, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning organization: %w", err)
	}
	o.MFARequired = mfa != 0

	if o.Settings, err = DecodeAttributes(settings.String); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertMembership creates a membership row. A second membership for the
// same identity fails with ErrAlreadyMember.
func InsertMembership(ctx context.Context, q database.Querier, m *Membership) error {
	prefs, err := EncodeAttributes(m.Preferences)
	if err != nil {
		return err
	}
	device, err := EncodeAttributes(m.DeviceInfo)
	if err != nil {
		return err
	}
	ts := database.FormatTime(m.CreatedAt)
	_, err = q.ExecContext(ctx,
		`INSERT INTO memberships (`+membershipColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OrganizationID, string(m.Role), database.NullString(m.RegionID),
		database.NullTime(m.LastLoginAt), database.NullTime(m.LastActivityAt),
		database.BoolToInt(m.IsActive), prefs, device, ts, ts,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("identity %s: %w", m.ID, apperr.ErrAlreadyMember)
		}
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// GetMembership loads the membership of an identity.
func GetMembership(ctx context.Context, q database.Querier, id string) (*Membership, error) {
	return scanMembership(q.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE id = ?", id))
}

// CountMembers returns the number of memberships in an organization,
// active or not. Deactivated members still hold their seat.
func CountMembers(ctx context.Context, q database.Querier, orgID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memberships WHERE organization_id = ?", orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return n, nil
}

func listMembers(ctx context.Context, q database.Querier, orgID string) ([]Membership, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE organization_id = ? ORDER BY created_at, id", orgID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	members := []Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}
	return members, nil
}

func updateMembership(ctx context.Context, q database.Querier, m *Membership) error {
	prefs, err := EncodeAttributes(m.Preferences)
	if err != nil {
		return err
	}
	device, err := EncodeAttributes(m.DeviceInfo)
	if err != nil {
		return err
	}
	// organization_id is immutable and never appears in the SET list.
	result, err := q.ExecContext(ctx,
		`UPDATE memberships SET role = ?, region_id = ?, is_active = ?, preferences = ?,
		        device_info = ?, updated_at = ?
		 WHERE id = ? AND organization_id = ?`,
		string(m.Role), database.NullString(m.RegionID), database.BoolToInt(m.IsActive),
		prefs, device, database.FormatTime(m.UpdatedAt), m.ID, m.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return fmt.Errorf("membership %w", apperr.ErrNotFound)
	}
	return nil
}

func recordLogin(ctx context.Context, q database.Querier, id string, at time.Time) error {
	ts := database.FormatTime(at)
	_, err := q.ExecContext(ctx,
		"UPDATE memberships SET last_login_at = ?, last_activity_at = ? WHERE id = ?", ts, ts, id)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return nil
}

func scanMembership(s scanner) (*Membership, error) {
	var m Membership
	var role string
	var region, lastLogin, lastActivity, prefs, device sql.NullString
	var active int
	var createdAt, updatedAt string

	err := s.Scan(&m.ID, &m.OrganizationID, &role, &region, &lastLogin, &lastActivity,
		&active, &prefs, &device, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("membership %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning membership: %w", err)
	}
	m.Role = authz.Role(role)
	m.RegionID = region.String
	m.IsActive = active != 0

	if m.LastLoginAt, err = database.ParseNullTime(lastLogin); err != nil {
		return nil, err
	}
	if m.LastActivityAt, err = database.ParseNullTime(lastActivity); err != nil {
		return nil, err
	}
	if m.Preferences, err = DecodeAttributes(prefs.String); err != nil {
		return nil, err
	}
	if m.DeviceInfo, err = DecodeAttributes(device.String); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
