// Package session tracks authenticated device sessions with sliding expiry
// capped by an absolute lifetime.
package session

import (
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// Session is one authenticated device. The raw token is never stored.
type Session struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	OrganizationID string             `json:"organization_id"`
	DeviceInfo     tenancy.Attributes `json:"device_info,omitempty"`
	IPAddress      string             `json:"ip_address,omitempty"`
	UserAgent      string             `json:"user_agent,omitempty"`
	ExpiresAt      time.Time          `json:"expires_at"`
	IsActive       bool               `json:"is_active"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	TerminatedAt   *time.Time         `json:"terminated_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Live reports whether s can still authenticate at now.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && !now.After(s.ExpiresAt)
}

// NewSession is the input to Create.
type NewSession struct {
	UserID         string
	OrganizationID string
	DeviceInfo     tenancy.Attributes
	IPAddress      string
	UserAgent      string
}

// Policy bounds session lifetime.
type Policy struct {
	IdleTimeout         time.Duration // sliding window extended by activity
	MaxLifetime         time.Duration // absolute cap from creation
	InactivityThreshold time.Duration // sweep horizon for idle rows
}

// DefaultPolicy returns 8h idle, 30d absolute and 30d inactivity.
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:         8 * time.Hour,
		MaxLifetime:         30 * 24 * time.Hour,
		InactivityThreshold: 30 * 24 * time.Hour,
	}
}

// expiry returns min(now+idle, created+max).
func (p Policy) expiry(created, now time.Time) time.Time {
	idle := now.Add(p.IdleTimeout)
	hard := created.Add(p.MaxLifetime)
	if idle.Before(hard) {
		return idle
	}
	return hard
}
