// Package account composes the identity core into the operation-level
// contract consumed by a front end: invitations, login and logout, session
// listing, password changes, lockout status and the audit trail.
//
// Every method takes the caller's context and returns a taxonomy error from
// apperr. Use Service.PublicError to render errors for end users.
package account

import (
	"context"
	"log/slog"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/invitation"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/security"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/session"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// AuditReader reads the audit trail of one organization.
type AuditReader interface {
	Query(ctx context.Context, orgID string, filter audit.Filter) (*audit.ListResult, error)
}

// Config holds the account-level policy.
type Config struct {
	JWTSecret         string
	AccessTokenTTL    time.Duration
	MinPasswordLength int
	RevealLockout     bool // PublicError distinguishes locked accounts from bad credentials
}

// Deps holds the components a Service composes.
type Deps struct {
	Directory   *tenancy.Directory
	Invitations *invitation.Service
	Sessions    *session.Manager
	Guard       *security.Guard
	Engine      *authz.Engine
	Identities  auth.IdentityStore
	Verifier    auth.CredentialVerifier
	Audit       AuditReader
	Recorder    audit.Recorder
	Notifier    invitation.Enqueuer // optional security alerts
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Service is the account facade.
type Service struct {
	cfg         Config
	directory   *tenancy.Directory
	invitations *invitation.Service
	sessions    *session.Manager
	guard       *security.Guard
	engine      *authz.Engine
	identities  auth.IdentityStore
	verifier    auth.CredentialVerifier
	audit       AuditReader
	recorder    audit.Recorder
	notifier    invitation.Enqueuer
	clock       clock.Clock
	logger      *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = invitation.DefaultMinPasswordLength
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	return &Service{
		cfg:         cfg,
		directory:   deps.Directory,
		invitations: deps.Invitations,
		sessions:    deps.Sessions,
		guard:       deps.Guard,
		engine:      deps.Engine,
		identities:  deps.Identities,
		verifier:    deps.Verifier,
		audit:       deps.Audit,
		recorder:    deps.Recorder,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		logger:      deps.Logger.With("component", "account"),
	}
}

// Invite issues an invitation on behalf of actor.
func (s *Service) Invite(ctx context.Context, actor authz.Actor, in invitation.NewInvitation) (*invitation.Invitation, string, error) {
	return s.invitations.Invite(ctx, actor, in)
}

// ValidateInvitation returns the public view of a pending invitation.
func (s *Service) ValidateInvitation(ctx context.Context, token string) (*invitation.View, error) {
	return s.invitations.Validate(ctx, token)
}

// AcceptInvitation redeems token and returns the new membership.
func (s *Service) AcceptInvitation(ctx context.Context, token string, in invitation.AcceptInput) (*tenancy.Membership, error) {
	return s.invitations.Accept(ctx, token, in)
}

// RevokeInvitation withdraws a pending invitation.
func (s *Service) RevokeInvitation(ctx context.Context, actor authz.Actor, id, reason string) error {
	return s.invitations.Revoke(ctx, actor, id, reason)
}

// ListPendingInvitations lists the pending invitations of orgID.
func (s *Service) ListPendingInvitations(ctx context.Context, actor authz.Actor, orgID string) ([]invitation.Invitation, error) {
	return s.invitations.ListPending(ctx, actor, orgID)
}

// QueryAuditLog returns a page of orgID's audit trail. Only admins of that
// organization may read it.
func (s *Service) QueryAuditLog(ctx context.Context, caller authz.Actor, orgID string, filter audit.Filter) (*audit.ListResult, error) {
	if err := s.engine.Authorize(ctx, caller, orgID, authz.ActionAuditRead, "audit:"+orgID); err != nil {
		return nil, err
	}
	return s.audit.Query(ctx, orgID, filter)
}

// CheckLockout reports the lockout status of email.
func (s *Service) CheckLockout(ctx context.Context, email string) (security.Status, error) {
	return s.guard.CheckLockout(ctx, email)
}

// PublicError maps err to the kind and message shown to end users.
func (s *Service) PublicError(err error) (apperr.Kind, string) {
	return apperr.PublicKind(err, s.cfg.RevealLockout), apperr.PublicMessage(err, s.cfg.RevealLockout)
}
