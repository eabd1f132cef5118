// Package invitation issues, validates and redeems single-use invitation
// tokens. Accepting a valid token creates exactly one membership; the
// status change and the membership insert commit together or not at all.
package invitation

import (
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// DefaultTTL is how long an invitation stays redeemable.
const DefaultTTL = 72 * time.Hour

// Status is the invitation lifecycle state. Everything but pending is terminal.
type Status string

// Invitation states.
const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// Invitation is an offer of membership in one organization.
type Invitation struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	Email          string             `json:"email"`
	Role           authz.Role         `json:"role"`
	RegionID       string             `json:"region_id,omitempty"`
	ExpiresAt      time.Time          `json:"expires_at"`
	InvitedBy      string             `json:"invited_by"`
	Status         Status             `json:"status"`
	Metadata       tenancy.Attributes `json:"metadata,omitempty"`
	AcceptedAt     *time.Time         `json:"accepted_at,omitempty"`
	AcceptedBy     string             `json:"accepted_by,omitempty"`
	RevokedAt      *time.Time         `json:"revoked_at,omitempty"`
	RevokedBy      string             `json:"revoked_by,omitempty"`
	RevokeReason   string             `json:"revoke_reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// redeemable reports whether inv can still be accepted at now.
func (inv *Invitation) redeemable(now time.Time) bool {
	return inv.Status == StatusPending && now.Before(inv.ExpiresAt)
}

// NewInvitation is the input to Invite.
type NewInvitation struct {
	OrganizationID string
	Email          string
	Role           authz.Role
	RegionID       string
	Metadata       tenancy.Attributes
}

// View is the public, unauthenticated projection of a pending invitation.
type View struct {
	Email            string     `json:"email"`
	Role             authz.Role `json:"role"`
	OrganizationID   string     `json:"organization_id"`
	OrganizationName string     `json:"organization_name"`
	RegionID         string     `json:"region_id,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// AcceptInput identifies or creates the identity redeeming an invitation.
// When IdentityID is empty the identity is looked up by the invitation
// email and created with Password if absent.
type AcceptInput struct {
	IdentityID  string
	Password    string
	DisplayName string
	Phone       string
	Preferences tenancy.Attributes
}
