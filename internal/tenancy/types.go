package tenancy

import (
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
)

// Subscription tiers.
const (
	TierBasic        = "basic"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// Attributes is a forward-compatible extension map of scalar values. The
// core stores it but never interprets it.
type Attributes map[string]any

// Organization is a tenant root.
type Organization struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	SubscriptionTier string     `json:"subscription_tier"`
	MFARequired      bool       `json:"mfa_required"`
	MaxUsers         int        `json:"max_users"`
	Settings         Attributes `json:"settings"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewOrganization is the input to CreateOrganization.
type NewOrganization struct {
	Name             string
	Slug             string
	SubscriptionTier string
	MFARequired      bool
	MaxUsers         int
	Settings         Attributes
}

// OrganizationPatch changes an organization. Nil fields are left alone.
// Settings keys are merged; a nil value deletes the key.
type OrganizationPatch struct {
	Name             *string
	SubscriptionTier *string
	MFARequired      *bool
	MaxUsers         *int
	Settings         Attributes
}

// Membership binds one identity to exactly one organization. ID equals the
// identity id.
type Membership struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Role           authz.Role `json:"role"`
	RegionID       string     `json:"region_id,omitempty"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	Preferences    Attributes `json:"preferences,omitempty"`
	DeviceInfo     Attributes `json:"device_info,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Actor returns the authorization view of m.
func (m *Membership) Actor() authz.Actor {
	return authz.Actor{UserID: m.ID, OrgID: m.OrganizationID, Role: m.Role}
}

// ProfilePatch is a self-service or administrative profile edit. Keys are
// column names; role and organization_id are always rejected.
type ProfilePatch map[string]any

// Profile fields accepted in a ProfilePatch.
const (
	FieldRegionID    = "region_id"
	FieldPreferences = "preferences"
	FieldDeviceInfo  = "device_info"
)
