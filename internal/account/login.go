package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/notify"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/security"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/session"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// LoginRequest is an anonymous credential presentation.
type LoginRequest struct {
	Email      string
	Password   string
	MFACode    string
	DeviceInfo tenancy.Attributes
	IPAddress  string
	UserAgent  string
}

// LoginResult is returned on a successful login. SessionToken is shown once.
type LoginResult struct {
	Session              *session.Session
	SessionToken         string
	AccessToken          string
	AccessTokenExpiresAt time.Time
	Membership           *tenancy.Membership
	// MFAEnrollmentRequired is set when the organization requires MFA and
	// the member has not enabled it yet.
	MFAEnrollmentRequired bool
}

// Principal is an authenticated caller resolved from an access token.
type Principal struct {
	Actor   authz.Actor
	Session *session.Session
}

// Login checks lockout, credentials, membership and MFA, then opens a
// session and issues an access token. A locked account fails with
// ErrAccountLocked even when the password is correct.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		return nil, s.loginFailed(ctx, req, req.Email, "", "", "malformed_email", apperr.ErrInvalidCredentials)
	}

	st, err := s.guard.CheckLockout(ctx, email)
	if err != nil {
		return nil, err
	}
	if st.Locked {
		return nil, s.loginFailed(ctx, req, email, "", "", "locked", apperr.ErrAccountLocked)
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, s.loginFailed(ctx, req, email, "", "", "unknown_identity", apperr.ErrInvalidCredentials)
		}
		return nil, err
	}

	ok, err := s.verifier.VerifyPassword(req.Password, identity.PasswordHash)
	if err != nil {
		s.logger.Warn("unreadable credential hash", "user_id", identity.ID, "error", err)
	}
	if !ok {
		return nil, s.loginFailed(ctx, req, email, identity.ID, "", "bad_password", apperr.ErrInvalidCredentials)
	}

	member, err := s.directory.GetMembership(ctx, identity.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if member == nil || !member.IsActive {
		return nil, s.loginFailed(ctx, req, email, identity.ID, "", "no_active_membership", apperr.ErrForbidden)
	}

	enrollment, err := s.checkMFA(ctx, req, email, member)
	if err != nil {
		return nil, err
	}

	if _, err := s.guard.RecordAttempt(ctx, security.Attempt{
		Email:          email,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		Success:        true,
		UserID:         member.ID,
		OrganizationID: member.OrganizationID,
	}); err != nil {
		return nil, err
	}

	sess, token, err := s.sessions.Create(ctx, session.NewSession{
		UserID:         member.ID,
		OrganizationID: member.OrganizationID,
		DeviceInfo:     req.DeviceInfo,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.directory.RecordLogin(ctx, member.ID, now); err != nil {
		s.logger.Warn("failed to stamp last login", "user_id", member.ID, "error", err)
	}

	access, err := auth.GenerateAccessToken(auth.Subject{
		UserID:         member.ID,
		OrganizationID: member.OrganizationID,
		Role:           member.Role,
		SessionID:      sess.ID,
	}, s.cfg.JWTSecret, s.cfg.AccessTokenTTL, now)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Session:               sess,
		SessionToken:          token,
		AccessToken:           access,
		AccessTokenExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		Membership:            member,
		MFAEnrollmentRequired: enrollment,
	}, nil
}

// checkMFA enforces the second factor when the member has one enabled. It
// returns true when the organization requires MFA the member lacks.
func (s *Service) checkMFA(ctx context.Context, req LoginRequest, email string, member *tenancy.Membership) (bool, error) {
	settings, err := s.guard.MFAForLogin(ctx, member.ID)
	if err != nil {
		return false, err
	}

	if !settings.Enabled() {
		org, err := s.directory.GetOrganization(ctx, member.OrganizationID)
		if err != nil {
			return false, err
		}
		return org.MFARequired, nil
	}

	if req.MFACode == "" {
		return false, fmt.Errorf("login %s: %w", email, apperr.ErrMFARequired)
	}
	ok, err := s.verifier.VerifyMFACode(ctx, settings.SecretRef, req.MFACode)
	if err != nil {
		return false, fmt.Errorf("verifying mfa code: %w", err)
	}
	if !ok {
		return false, s.loginFailed(ctx, req, email, member.ID, member.OrganizationID, "bad_mfa_code", apperr.ErrInvalidCredentials)
	}
	if err := s.guard.MarkMFAUsed(ctx, member.ID); err != nil {
		s.logger.Warn("failed to stamp mfa use", "user_id", member.ID, "error", err)
	}
	return false, nil
}

// loginFailed records the failed attempt, emits login_failed and returns
// cause wrapped with the email. The attempt that locks the account also
// queues a security alert to the owner.
func (s *Service) loginFailed(ctx context.Context, req LoginRequest, email, userID, orgID, reason string, cause error) error {
	wrapped := fmt.Errorf("login %s: %w", email, cause)

	if orgID == "" && userID != "" {
		if m, err := s.directory.GetMembership(ctx, userID); err == nil {
			orgID = m.OrganizationID
		}
	}

	wasUnlocked := !errors.Is(cause, apperr.ErrAccountLocked)
	st, err := s.guard.RecordAttempt(ctx, security.Attempt{
		Email:          email,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		UserID:         userID,
		OrganizationID: orgID,
	})
	if err != nil {
		s.logger.Error("failed to record login attempt", "email", email, "error", err)
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:         userID,
		OrganizationID: orgID,
		Type:           audit.EventLoginFailed,
		Resource:       "account:" + email,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		Success:        false,
		Error:          wrapped.Error(),
		Details:        map[string]any{"reason": reason, "email": email, "failed_count": st.FailedCount},
	})

	if wasUnlocked && st.Locked && userID != "" {
		s.alert(email, orgID, "Your account has been locked", map[string]any{
			"summary": fmt.Sprintf("Your account was locked after %d failed sign-in attempts. "+
				"It unlocks automatically once the lockout window has passed.", st.FailedCount),
			"reason":       "too_many_failed_logins",
			"failed_count": st.FailedCount,
			"ip_address":   req.IPAddress,
		})
	}
	return wrapped
}

// alert queues a security_alert notification. Delivery is best effort.
func (s *Service) alert(to, orgID, subject string, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.Enqueue(notify.Message{
		Kind:           notify.KindSecurityAlert,
		To:             to,
		Subject:        subject,
		OrganizationID: orgID,
		Data:           data,
	}) {
		s.logger.Warn("security alert not queued", "organization_id", orgID)
	}
}

// Logout terminates the session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// LogoutEverywhere terminates every session of identityID.
func (s *Service) LogoutEverywhere(ctx context.Context, caller authz.Actor, identityID string) (int64, error) {
	return s.sessions.RevokeAll(ctx, caller, identityID)
}

// ListSessions lists the live sessions of identityID. Any other identity, or
// an organization filter other than the caller's, fails with ErrForbidden.
func (s *Service) ListSessions(ctx context.Context, caller authz.Actor, identityID, orgFilter string) ([]session.Session, error) {
	return s.sessions.List(ctx, caller, identityID, orgFilter)
}

// Authenticate resolves an access token to its principal. The session it
// names must still be live and the membership active; the role is read from
// the membership so role changes apply before the token expires.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := auth.ParseAccessToken(accessToken, s.cfg.JWTSecret, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("access token: %w", apperr.ErrSessionExpired)
		}
		return nil, fmt.Errorf("access token: %w", apperr.ErrInvalidCredentials)
	}

	sess, err := s.sessions.AuthenticateID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("access token: %w", apperr.ErrSessionExpired)
		}
		return nil, err
	}
	if sess.UserID != claims.Subject || sess.OrganizationID != claims.OrganizationID {
		return nil, fmt.Errorf("access token does not match session: %w", apperr.ErrInvalidCredentials)
	}

	member, err := s.directory.GetMembership(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !member.IsActive || member.OrganizationID != sess.OrganizationID {
		return nil, fmt.Errorf("membership of %s: %w", sess.UserID, apperr.ErrForbidden)
	}
	return &Principal{Actor: member.Actor(), Session: sess}, nil
}
