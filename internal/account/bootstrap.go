package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// bootstrapPasswordBytes yields a 32-character hex password.
const bootstrapPasswordBytes = 16

// BootstrapConfig describes the first organization and its administrator.
type BootstrapConfig struct {
	OrganizationName string
	OrganizationSlug string
	AdminEmail       string
	MaxUsers         int
}

// BootstrapResult is the outcome of a first-run bootstrap.
type BootstrapResult struct {
	Organization *tenancy.Organization
	Membership   *tenancy.Membership
	Email        string
	Password     string
}

// Bootstrap creates the first organization and a super_admin identity with a
// generated password when no identity exists yet. It returns nil when the
// store is already populated.
func (s *Service) Bootstrap(ctx context.Context, cfg BootstrapConfig) (*BootstrapResult, error) {
	n, err := s.identities.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.logger.Debug("bootstrap skipped, identities exist", "count", n)
		return nil, nil
	}

	email, err := auth.NormalizeEmail(cfg.AdminEmail)
	if err != nil {
		return nil, err
	}

	org, err := s.bootstrapOrganization(ctx, cfg)
	if err != nil {
		return nil, err
	}

	password, err := auth.GeneratePassword(bootstrapPasswordBytes)
	if err != nil {
		return nil, err
	}
	hash, err := s.verifier.HashPassword(password)
	if err != nil {
		return nil, err
	}

	identity := &auth.Identity{Email: email, DisplayName: "Administrator", PasswordHash: hash}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("bootstrapping administrator: %w", err)
	}

	member := &tenancy.Membership{ID: identity.ID, OrganizationID: org.ID, Role: authz.RoleSuperAdmin}
	if err := s.bootstrapMembership(ctx, member, hash); err != nil {
		// Without an identity the next start retries from a clean slate.
		if derr := s.identities.Delete(context.WithoutCancel(ctx), identity.ID); derr != nil {
			s.logger.Error("removing bootstrap administrator failed", "user_id", identity.ID, "error", derr)
		}
		return nil, err
	}

	s.logger.Warn("bootstrap administrator created, change this password after first login",
		"organization_id", org.ID,
		"email", email,
		"password", password,
	)
	return &BootstrapResult{Organization: org, Membership: member, Email: email, Password: password}, nil
}

// bootstrapOrganization returns the organization named by cfg, reusing one
// left behind by an earlier bootstrap that did not finish.
func (s *Service) bootstrapOrganization(ctx context.Context, cfg BootstrapConfig) (*tenancy.Organization, error) {
	slug := strings.ToLower(cfg.OrganizationSlug)
	org, err := s.directory.GetOrganizationBySlug(ctx, slug)
	if err == nil {
		s.logger.Info("bootstrap reusing existing organization", "organization_id", org.ID, "slug", slug)
		return org, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	org, err = s.directory.CreateOrganization(ctx, tenancy.NewOrganization{
		Name:             cfg.OrganizationName,
		Slug:             slug,
		SubscriptionTier: tenancy.TierEnterprise,
		MaxUsers:         cfg.MaxUsers,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrapping organization: %w", err)
	}
	return org, nil
}

// bootstrapMembership adds the administrator membership and its first
// history entry, removing the membership again if the history write fails.
func (s *Service) bootstrapMembership(ctx context.Context, member *tenancy.Membership, hash string) error {
	if err := s.directory.AddMembership(ctx, member); err != nil {
		return fmt.Errorf("bootstrapping membership: %w", err)
	}
	if err := s.guard.AppendPasswordHistory(ctx, member.ID, hash); err != nil {
		if rerr := s.directory.RemoveMembership(context.WithoutCancel(ctx), member.ID); rerr != nil {
			s.logger.Error("removing bootstrap membership failed", "user_id", member.ID, "error", rerr)
		}
		return fmt.Errorf("bootstrapping password history: %w", err)
	}
	return nil
}
