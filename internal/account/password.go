package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
)

// ChangePassword replaces the caller's credential. A password still inside
// the reuse window fails with ErrPasswordReused and nothing is stored.
func (s *Service) ChangePassword(ctx context.Context, caller authz.Actor, oldPassword, newPassword string) error {
	identity, err := s.identities.GetByID(ctx, caller.UserID)
	if err != nil {
		return err
	}

	ok, err := s.verifier.VerifyPassword(oldPassword, identity.PasswordHash)
	if err != nil {
		s.logger.Warn("unreadable credential hash", "user_id", identity.ID, "error", err)
	}
	if !ok {
		return fmt.Errorf("change password: %w", apperr.ErrInvalidCredentials)
	}
	if len(newPassword) < s.cfg.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrInvalidInput, s.cfg.MinPasswordLength)
	}

	reused, err := s.guard.CheckPasswordReuse(ctx, identity.ID, newPassword)
	if err != nil {
		return err
	}
	if reused {
		return fmt.Errorf("change password: %w", apperr.ErrPasswordReused)
	}

	hash, err := s.verifier.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.identities.UpdatePassword(ctx, identity.ID, hash); err != nil {
		return err
	}
	if err := s.guard.RecordPasswordChange(ctx, identity.ID, caller.OrgID, hash); err != nil {
		return err
	}

	s.alert(identity.Email, caller.OrgID, "Your password was changed", map[string]any{
		"summary": "The password for your account was changed.",
		"reason":  "password_changed",
	})
	return nil
}

// UnlockAccount clears the lockout of email. Admins unlock members of their
// own organization; the system actor unlocks anyone.
func (s *Service) UnlockAccount(ctx context.Context, actor authz.Actor, email string) error {
	if actor != authz.System {
		identity, err := s.identities.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		member, err := s.directory.GetMembership(ctx, identity.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return s.engine.Deny(ctx, actor, "unlock_account", authz.RoleAdmin, "account:"+identity.Email, apperr.ErrForbidden)
			}
			return err
		}
		if err := s.engine.Authorize(ctx, actor, member.OrganizationID, authz.ActionMemberUpdate, "account:"+identity.Email); err != nil {
			return err
		}
	}
	return s.guard.Unlock(ctx, actor, email)
}
