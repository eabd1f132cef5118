// Package tenancy is the directory of organizations and the memberships
// that bind each identity to exactly one of them.
package tenancy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

// Directory manages organizations and memberships.
type Directory struct {
	db       *sql.DB
	engine   *authz.Engine
	recorder audit.Recorder
	clock    clock.Clock
	logger   *slog.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(db *sql.DB, engine *authz.Engine, rec audit.Recorder, clk clock.Clock, logger *slog.Logger) *Directory {
	return &Directory{db: db, engine: engine, recorder: rec, clock: clk, logger: logger}
}

// CreateOrganization creates a tenant. This is a privileged bootstrap
// operation with no actor.
func (d *Directory) CreateOrganization(ctx context.Context, in NewOrganization) (*Organization, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)
	if in.SubscriptionTier == "" {
		in.SubscriptionTier = TierBasic
	}
	if err := ValidateName(in.Name); err != nil {
		return nil, err
	}
	if err := ValidateSlug(in.Slug); err != nil {
		return nil, err
	}
	if err := ValidateTier(in.SubscriptionTier); err != nil {
		return nil, err
	}
	if in.MaxUsers <= 0 {
		return nil, fmt.Errorf("%w: max users must be positive", apperr.ErrInvalidInput)
	}
	if err := in.Settings.Validate(); err != nil {
		return nil, err
	}

	now := d.clock.Now()
	org := &Organization{
		ID:               "org-" + uuid.NewString(),
		Name:             in.Name,
		Slug:             in.Slug,
		SubscriptionTier: in.SubscriptionTier,
		MFARequired:      in.MFARequired,
		MaxUsers:         in.MaxUsers,
		Settings:         in.Settings.merge(nil),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := insertOrganization(ctx, d.db, org); err != nil {
		return nil, err
	}

	d.recorder.Record(ctx, audit.Event{
		UserID:         authz.System.UserID,
		OrganizationID: org.ID,
		Type:           audit.EventOrganizationCreated,
		Resource:       "organization:" + org.ID,
		Success:        true,
		Details:        map[string]any{"slug": org.Slug, "max_users": org.MaxUsers},
	})
	d.logger.Info("organization created", "organization_id", org.ID, "slug", org.Slug)
	return org, nil
}

// GetOrganization returns an organization by id.
func (d *Directory) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var org *Organization
	err := database.RetryRead(ctx, func() error {
		var err error
		org, err = GetOrganization(ctx, d.db, id)
		return err
	})
	return org, err
}

// GetOrganizationBySlug returns an organization by slug.
func (d *Directory) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return getOrganizationBySlug(ctx, d.db, slug)
}

// CountOrganizations returns the number of tenants.
func (d *Directory) CountOrganizations(ctx context.Context) (int, error) {
	return countOrganizations(ctx, d.db)
}

// UpdateOrganizationSettings applies patch to orgID. The actor must be an
// admin or above in that organization.
func (d *Directory) UpdateOrganizationSettings(ctx context.Context, actor authz.Actor, orgID string, patch OrganizationPatch) (*Organization, error) {
	if err := d.engine.Authorize(ctx, actor, orgID, authz.ActionOrganizationUpdate, "organization:"+orgID); err != nil {
		return nil, err
	}
	if err := patch.Settings.Validate(); err != nil {
		return nil, err
	}

	var org *Organization
	var changed []string
	err := database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		var err error
		org, err = GetOrganization(ctx, tx, orgID)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if err := ValidateName(name); err != nil {
				return err
			}
			org.Name = name
			changed = append(changed, "name")
		}
		if patch.SubscriptionTier != nil {
			if err := ValidateTier(*patch.SubscriptionTier); err != nil {
				return err
			}
			org.SubscriptionTier = *patch.SubscriptionTier
			changed = append(changed, "subscription_tier")
		}
		if patch.MFARequired != nil {
			org.MFARequired = *patch.MFARequired
			changed = append(changed, "mfa_required")
		}
		if patch.MaxUsers != nil {
			members, err := CountMembers(ctx, tx, orgID)
			if err != nil {
				return err
			}
			if *patch.MaxUsers <= 0 || *patch.MaxUsers < members {
				return fmt.Errorf("%w: max users must be at least the current member count (%d)", apperr.ErrInvalidInput, members)
			}
			org.MaxUsers = *patch.MaxUsers
			changed = append(changed, "max_users")
		}
		if len(patch.Settings) > 0 {
			org.Settings = org.Settings.merge(patch.Settings)
			for _, k := range slices.Sorted(maps.Keys(patch.Settings)) {
				changed = append(changed, "settings."+k)
			}
		}

		org.UpdatedAt = d.clock.Now()
		return updateOrganization(ctx, tx, org)
	})
	if err != nil {
		return nil, err
	}

	d.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: orgID,
		Type:           audit.EventOrganizationUpdated,
		Resource:       "organization:" + orgID,
		Success:        true,
		Details:        map[string]any{"changed": changed},
	})
	return org, nil
}

// AddMembership creates a membership outside the invitation flow. It is the
// privileged bootstrap path and still honours the organization's capacity.
func (d *Directory) AddMembership(ctx context.Context, m *Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, m.Role)
	}
	if err := m.Preferences.Validate(); err != nil {
		return err
	}
	if err := m.DeviceInfo.Validate(); err != nil {
		return err
	}

	now := d.clock.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	m.IsActive = true

	return database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		org, err := GetOrganization(ctx, tx, m.OrganizationID)
		if err != nil {
			return err
		}
		n, err := CountMembers(ctx, tx, org.ID)
		if err != nil {
			return err
		}
		if n >= org.MaxUsers {
			return fmt.Errorf("%s: %w", org.ID, apperr.ErrOrganizationFull)
		}
		return InsertMembership(ctx, tx, m)
	})
}

// RemoveMembership deletes a membership without authorization or audit. It
// undoes AddMembership when the operation that called it fails.
func (d *Directory) RemoveMembership(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM memberships WHERE id = ?", id); err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}
	return nil
}

// GetMembership returns the membership of an identity.
func (d *Directory) GetMembership(ctx context.Context, id string) (*Membership, error) {
	var m *Membership
	err := database.RetryRead(ctx, func() error {
		var err error
		m, err = GetMembership(ctx, d.db, id)
		return err
	})
	return m, err
}

// ListMembers returns the memberships of orgID. Supervisors and above only.
func (d *Directory) ListMembers(ctx context.Context, actor authz.Actor, orgID string) ([]Membership, error) {
	if err := d.engine.Authorize(ctx, actor, orgID, authz.ActionMemberRead, "organization:"+orgID); err != nil {
		return nil, err
	}
	return listMembers(ctx, d.db, orgID)
}

// CountMembers returns the number of memberships in orgID.
func (d *Directory) CountMembers(ctx context.Context, orgID string) (int, error) {
	return CountMembers(ctx, d.db, orgID)
}

// UpdateProfile applies a profile patch. Members may edit themselves;
// admins may edit others in their organization. Role and organization can
// never be changed this way.
func (d *Directory) UpdateProfile(ctx context.Context, actor authz.Actor, targetID string, patch ProfilePatch) (*Membership, error) {
	target, err := GetMembership(ctx, d.db, targetID)
	if err != nil {
		return nil, err
	}
	fields := slices.Sorted(maps.Keys(patch))
	if err := d.engine.AuthorizeProfilePatch(ctx, actor, target.ID, target.OrganizationID, fields); err != nil {
		return nil, err
	}

	for _, f := range fields {
		v := patch[f]
		switch f {
		case FieldRegionID:
			s, ok := v.(string)
			if !ok && v != nil {
				return nil, fmt.Errorf("%w: region_id must be a string", apperr.ErrInvalidInput)
			}
			target.RegionID = s
		case FieldPreferences, FieldDeviceInfo:
			attrs, err := toAttributes(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", apperr.ErrInvalidInput, f, err)
			}
			if err := attrs.Validate(); err != nil {
				return nil, err
			}
			if f == FieldPreferences {
				target.Preferences = target.Preferences.merge(attrs)
			} else {
				target.DeviceInfo = target.DeviceInfo.merge(attrs)
			}
		default:
			return nil, fmt.Errorf("%w: unknown profile field %q", apperr.ErrInvalidInput, f)
		}
	}

	target.UpdatedAt = d.clock.Now()
	if err := updateMembership(ctx, d.db, target); err != nil {
		return nil, err
	}

	d.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: target.OrganizationID,
		Type:           audit.EventProfileUpdated,
		Resource:       "membership:" + target.ID,
		Success:        true,
		Details:        map[string]any{"fields": fields},
	})
	return target, nil
}

func toAttributes(v any) (Attributes, error) {
	switch m := v.(type) {
	case Attributes:
		return m, nil
	case map[string]any:
		return Attributes(m), nil
	case nil:
		return Attributes{}, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
}

// ChangeRole sets a member's role. The actor must be an admin in the same
// organization, may not change their own role, and can neither grant nor
// touch a role above their own.
func (d *Directory) ChangeRole(ctx context.Context, actor authz.Actor, targetID string, role authz.Role) (*Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, role)
	}
	target, err := GetMembership(ctx, d.db, targetID)
	if err != nil {
		return nil, err
	}
	resource := "membership:" + target.ID
	if err := d.engine.Authorize(ctx, actor, target.OrganizationID, authz.ActionMemberRoleChange, resource); err != nil {
		return nil, err
	}
	if actor.UserID == target.ID {
		return nil, d.engine.Deny(ctx, actor, "role_change", actor.Role, resource, apperr.ErrForbidden)
	}
	if !actor.Role.AtLeast(role) || !actor.Role.AtLeast(target.Role) {
		required := role
		if target.Role.Level() > required.Level() {
			required = target.Role
		}
		return nil, d.engine.Deny(ctx, actor, "role_change", required, resource, apperr.ErrInsufficientRole)
	}

	previous := target.Role
	target.Role = role
	target.UpdatedAt = d.clock.Now()
	if err := updateMembership(ctx, d.db, target); err != nil {
		return nil, err
	}

	d.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: target.OrganizationID,
		Type:           audit.EventRoleChange,
		Resource:       resource,
		Success:        true,
		Details:        map[string]any{"from": string(previous), "to": string(role), "target": target.ID},
	})
	return target, nil
}

// Deactivate soft-disables a member and terminates their sessions in the
// same transaction.
func (d *Directory) Deactivate(ctx context.Context, actor authz.Actor, targetID string) error {
	target, err := d.authorizeMemberAdmin(ctx, actor, targetID, authz.ActionMemberDeactivate, "deactivate")
	if err != nil {
		return err
	}
	if !target.IsActive {
		return nil
	}

	now := d.clock.Now()
	err = database.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		target.IsActive = false
		target.UpdatedAt = now
		if err := updateMembership(ctx, tx, target); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE sessions SET is_active = 0, terminated_at = ? WHERE user_id = ? AND is_active = 1",
			database.FormatTime(now), target.ID)
		if err != nil {
			return fmt.Errorf("terminating sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: target.OrganizationID,
		Type:           audit.EventMemberDeactivated,
		Resource:       "membership:" + target.ID,
		Success:        true,
	})
	return nil
}

// DeleteMembership hard-deletes a member. Sessions, MFA settings and
// password history go with it through cascading foreign keys.
func (d *Directory) DeleteMembership(ctx context.Context, actor authz.Actor, targetID string) error {
	target, err := d.authorizeMemberAdmin(ctx, actor, targetID, authz.ActionMemberDelete, "delete_member")
	if err != nil {
		return err
	}

	if _, err := d.db.ExecContext(ctx,
		"DELETE FROM memberships WHERE id = ? AND organization_id = ?", target.ID, target.OrganizationID); err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}

	d.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: target.OrganizationID,
		Type:           audit.EventMemberDeleted,
		Resource:       "membership:" + target.ID,
		Success:        true,
		Details:        map[string]any{"role": string(target.Role)},
	})
	return nil
}

// authorizeMemberAdmin loads the target and checks that actor holds action
// over it: same organization, not themselves, not a higher-ranked member.
func (d *Directory) authorizeMemberAdmin(ctx context.Context, actor authz.Actor, targetID string, action authz.Action, attempted string) (*Membership, error) {
	target, err := GetMembership(ctx, d.db, targetID)
	if err != nil {
		return nil, err
	}
	resource := "membership:" + target.ID
	if err := d.engine.Authorize(ctx, actor, target.OrganizationID, action, resource); err != nil {
		return nil, err
	}
	if actor.UserID == target.ID {
		return nil, d.engine.Deny(ctx, actor, attempted, actor.Role, resource, apperr.ErrForbidden)
	}
	if !actor.Role.AtLeast(target.Role) {
		return nil, d.engine.Deny(ctx, actor, attempted, target.Role, resource, apperr.ErrInsufficientRole)
	}
	return target, nil
}

// RecordLogin stamps last login and activity times.
func (d *Directory) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return recordLogin(ctx, d.db, userID, at)
}
