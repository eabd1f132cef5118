package audit

import (
	"time"
)

// EventType is the closed set of security-relevant event kinds.
type EventType string

// Event types.
const (
	EventLogin               EventType = "login"
	EventLoginFailed         EventType = "login_failed"
	EventLogout              EventType = "logout"
	EventPasswordChange      EventType = "password_change"
	EventRoleChange          EventType = "role_change"
	EventMFAEnabled          EventType = "mfa_enabled"
	EventMFADisabled         EventType = "mfa_disabled"
	EventMFAReset            EventType = "mfa_reset"
	EventAccountLocked       EventType = "account_locked"
	EventAccountUnlocked     EventType = "account_unlocked"
	EventInvitationSent      EventType = "invitation_sent"
	EventInvitationAccepted  EventType = "invitation_accepted"
	EventInvitationRevoked   EventType = "invitation_revoked"
	EventInvitationExpired   EventType = "invitation_expired"
	EventAccessDenied        EventType = "access_denied"
	EventSecurityIncident    EventType = "security_incident"
	EventOrganizationCreated EventType = "organization_created"
	EventOrganizationUpdated EventType = "organization_updated"
	EventMemberDeactivated   EventType = "member_deactivated"
	EventMemberDeleted       EventType = "member_deleted"
	EventProfileUpdated      EventType = "profile_updated"
	EventSessionSweep        EventType = "session_sweep"
	EventAuditRetention      EventType = "audit_retention"
)

var validEventTypes = map[EventType]bool{
	EventLogin: true, EventLoginFailed: true, EventLogout: true,
	EventPasswordChange: true, EventRoleChange: true,
	EventMFAEnabled: true, EventMFADisabled: true, EventMFAReset: true,
	EventAccountLocked: true, EventAccountUnlocked: true,
	EventInvitationSent: true, EventInvitationAccepted: true,
	EventInvitationRevoked: true, EventInvitationExpired: true,
	EventAccessDenied: true, EventSecurityIncident: true,
	EventOrganizationCreated: true, EventOrganizationUpdated: true,
	EventMemberDeactivated: true, EventMemberDeleted: true, EventProfileUpdated: true,
	EventSessionSweep: true, EventAuditRetention: true,
}

// Valid reports whether t belongs to the closed enumeration.
func (t EventType) Valid() bool {
	return validEventTypes[t]
}

// Event is one immutable audit trail entry. UserID and OrganizationID are
// empty for system events such as sweeps.
type Event struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Type           EventType      `json:"type"`
	Resource       string         `json:"resource,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Success        bool           `json:"success"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Filter narrows an organization-scoped query.
type Filter struct {
	UserID   string
	Type     EventType
	Resource string
	Success  *bool
	Since    time.Time // inclusive
	Until    time.Time // exclusive
	Limit    int       // default 50, max 200
	Offset   int
}

// Page size bounds for queries.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

func (f *Filter) normalise() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// ListResult contains one page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}
