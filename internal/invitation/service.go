package invitation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/notify"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/security"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// DefaultMinPasswordLength applies to identities created on acceptance.
const DefaultMinPasswordLength = 12

// Enqueuer accepts notifications for asynchronous delivery.
type Enqueuer interface {
	Enqueue(msg notify.Message) bool
}

// Observer is told about invitation lifecycle events.
type Observer interface {
	InvitationEvent(event string)
}

// Service issues and redeems invitations.
type Service struct {
	db         *sql.DB
	engine     *authz.Engine
	identities auth.IdentityStore
	verifier   auth.CredentialVerifier
	guard      *security.Guard
	notifier   Enqueuer
	recorder   audit.Recorder
	clock      clock.Clock
	logger     *slog.Logger

	ttl         time.Duration
	minPassword int
	acceptURL   string
	observer    Observer
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithMinPasswordLength overrides DefaultMinPasswordLength.
func WithMinPasswordLength(n int) Option {
	return func(s *Service) { s.minPassword = n }
}

// WithAcceptURL sets the base URL of the acceptance page. The token is
// appended as the "token" query parameter.
func WithAcceptURL(u string) Option {
	return func(s *Service) { s.acceptURL = u }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates an invitation Service.
func NewService(db *sql.DB, engine *authz.Engine, identities auth.IdentityStore, verifier auth.CredentialVerifier,
	guard *security.Guard, notifier Enqueuer, rec audit.Recorder, clk clock.Clock, logger *slog.Logger, opts ...Option,
) *Service {
	s := &Service{
		db:          db,
		engine:      engine,
		identities:  identities,
		verifier:    verifier,
		guard:       guard,
		notifier:    notifier,
		recorder:    rec,
		clock:       clk,
		logger:      logger.With("component", "invitation"),
		ttl:         DefaultTTL,
		minPassword: DefaultMinPasswordLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invite creates a pending invitation and queues its email. The raw token is
// returned once; only its digest is stored.
func (s *Service) Invite(ctx context.Context, actor authz.Actor, in NewInvitation) (*Invitation, string, error) {
	email, err := auth.NormalizeEmail(in.Email)
	if err != nil {
		return nil, "", err
	}
	if err := s.engine.AuthorizeInvite(ctx, actor, in.OrganizationID, in.Role); err != nil {
		return nil, "", err
	}
	if err := in.Metadata.Validate(); err != nil {
		return nil, "", err
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return nil, "", err
	}
	now := s.clock.Now()
	inv := &Invitation{
		ID:             "inv-" + uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Email:          email,
		Role:           in.Role,
		RegionID:       in.RegionID,
		ExpiresAt:      now.Add(s.ttl),
		InvitedBy:      actor.UserID,
		Status:         StatusPending,
		Metadata:       in.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var org *tenancy.Organization
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if org, err = tenancy.GetOrganization(ctx, tx, in.OrganizationID); err != nil {
			return err
		}
		n, err := tenancy.CountMembers(ctx, tx, org.ID)
		if err != nil {
			return err
		}
		if n >= org.MaxUsers {
			return fmt.Errorf("%s: %w", org.ID, apperr.ErrOrganizationFull)
		}
		if err := expireStale(ctx, tx, org.ID, email, now); err != nil {
			return err
		}
		err = insertInvitation(ctx, tx, inv, auth.HashToken(token))
		if err == nil {
			return nil
		}
		if database.IsUniqueViolation(err) {
			if exists, perr := pendingExists(ctx, tx, org.ID, email); perr == nil && exists {
				return fmt.Errorf("%s: %w", email, apperr.ErrDuplicatePendingInvitation)
			}
		}
		return fmt.Errorf("inserting invitation: %w", err)
	})
	if err != nil {
		return nil, "", err
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: inv.OrganizationID,
		Type:           audit.EventInvitationSent,
		Resource:       "invitation:" + inv.ID,
		Success:        true,
		Details: map[string]any{
			"email":      inv.Email,
			"role":       string(inv.Role),
			"expires_at": database.FormatTime(inv.ExpiresAt),
		},
	})
	s.observe("sent")

	if s.notifier != nil && !s.notifier.Enqueue(s.invitationMessage(inv, org, token)) {
		s.logger.Warn("invitation email not queued; token must be delivered out of band",
			"invitation_id", inv.ID)
	}
	return inv, token, nil
}

func (s *Service) invitationMessage(inv *Invitation, org *tenancy.Organization, token string) notify.Message {
	link := token
	if s.acceptURL != "" {
		if u, err := url.Parse(s.acceptURL); err == nil {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
			link = u.String()
		}
	}
	return notify.Message{
		Kind:           notify.KindInvitation,
		To:             inv.Email,
		Subject:        "You have been invited to " + org.Name,
		OrganizationID: org.ID,
		Data: map[string]any{
			"organization_name": org.Name,
			"role":              string(inv.Role),
			"link":              link,
			"expires_at":        inv.ExpiresAt.Format(time.RFC1123),
		},
	}
}

// Validate returns the public view of a redeemable invitation. It needs no
// identity and never mutates state. Unknown, used, revoked and expired
// tokens all fail the same way.
func (s *Service) Validate(ctx context.Context, token string) (*View, error) {
	var view *View
	err := database.RetryRead(ctx, func() error {
		inv, err := getByTokenHash(ctx, s.db, auth.HashToken(token))
		if err != nil {
			return err
		}
		if !inv.redeemable(s.clock.Now()) {
			return apperr.ErrInvitationInvalidOrExpired
		}
		org, err := tenancy.GetOrganization(ctx, s.db, inv.OrganizationID)
		if err != nil {
			return err
		}
		view = &View{
			Email:            inv.Email,
			Role:             inv.Role,
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
			RegionID:         inv.RegionID,
			ExpiresAt:        inv.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.ErrInvitationInvalidOrExpired
		}
		return nil, err
	}
	return view, nil
}

// Accept redeems token for the identity described by in and returns the new
// membership. Membership creation, the pending-to-accepted transition and
// the default MFA settings commit in one transaction; concurrent calls for
// the same token produce exactly one membership.
func (s *Service) Accept(ctx context.Context, token string, in AcceptInput) (*tenancy.Membership, error) {
	hash := auth.HashToken(token)
	inv, err := getByTokenHash(ctx, s.db, hash)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.ErrInvitationInvalidOrExpired
		}
		return nil, err
	}
	if !inv.redeemable(s.clock.Now()) {
		s.expireIfStale(ctx, inv)
		return nil, apperr.ErrInvitationInvalidOrExpired
	}
	if err := in.Preferences.Validate(); err != nil {
		return nil, err
	}

	identity, created, err := s.resolveIdentity(ctx, inv.Email, in)
	if err != nil {
		return nil, err
	}

	m := &tenancy.Membership{
		ID:             identity.ID,
		OrganizationID: inv.OrganizationID,
		Role:           inv.Role,
		RegionID:       inv.RegionID,
		IsActive:       true,
		Preferences:    in.Preferences,
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.clock.Now()
		current, err := getByTokenHash(ctx, tx, hash)
		if err != nil {
			return err
		}
		if !current.redeemable(now) {
			return apperr.ErrInvitationInvalidOrExpired
		}

		if _, err := tenancy.GetMembership(ctx, tx, identity.ID); err == nil {
			return fmt.Errorf("identity %s: %w", identity.ID, apperr.ErrAlreadyMember)
		} else if apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}

		org, err := tenancy.GetOrganization(ctx, tx, current.OrganizationID)
		if err != nil {
			return err
		}
		n, err := tenancy.CountMembers(ctx, tx, org.ID)
		if err != nil {
			return err
		}
		if n >= org.MaxUsers {
			return fmt.Errorf("%s: %w", org.ID, apperr.ErrOrganizationFull)
		}

		m.CreatedAt, m.UpdatedAt = now, now
		if err := tenancy.InsertMembership(ctx, tx, m); err != nil {
			return err
		}
		ts := database.FormatTime(now)
		ok, err := transition(ctx, tx, current.ID, StatusAccepted,
			"accepted_at = ?, accepted_by = ?, updated_at = ?", ts, identity.ID, ts)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvitationInvalidOrExpired
		}
		return security.InsertDefaultMFASettings(ctx, tx, identity.ID, now)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInvitationInvalidOrExpired) {
			s.expireIfStale(ctx, inv)
		}
		if created {
			s.discardIdentity(ctx, identity.ID)
		}
		return nil, err
	}

	if created && s.guard != nil {
		if err := s.guard.AppendPasswordHistory(ctx, identity.ID, identity.PasswordHash); err != nil {
			s.logger.Error("recording initial password history failed",
				"user_id", identity.ID, "error", err)
		}
	}
	s.recorder.Record(ctx, audit.Event{
		UserID:         identity.ID,
		OrganizationID: inv.OrganizationID,
		Type:           audit.EventInvitationAccepted,
		Resource:       "invitation:" + inv.ID,
		Success:        true,
		Details: map[string]any{
			"role":             string(inv.Role),
			"invited_by":       inv.InvitedBy,
			"identity_created": created,
		},
	})
	s.observe("accepted")
	return m, nil
}

// resolveIdentity returns the identity redeeming an invitation addressed to
// email, creating it when none exists. created reports a new identity.
func (s *Service) resolveIdentity(ctx context.Context, email string, in AcceptInput) (*auth.Identity, bool, error) {
	if in.IdentityID != "" {
		identity, err := s.identities.GetByID(ctx, in.IdentityID)
		if err != nil {
			return nil, false, err
		}
		if identity.Email != email {
			return nil, false, fmt.Errorf("invitation is addressed to another email: %w", apperr.ErrForbidden)
		}
		return identity, false, nil
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err == nil {
		return identity, false, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, false, err
	}

	if len(in.Password) < s.minPassword {
		return nil, false, fmt.Errorf("%w: password must be at least %d characters", apperr.ErrInvalidInput, s.minPassword)
	}
	hash, err := s.verifier.HashPassword(in.Password)
	if err != nil {
		return nil, false, fmt.Errorf("hashing password: %w", err)
	}
	identity = &auth.Identity{
		Email:        email,
		DisplayName:  in.DisplayName,
		Phone:        in.Phone,
		PasswordHash: hash,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if !errors.Is(err, auth.ErrEmailExists) {
			return nil, false, err
		}
		// Lost a race with a concurrent acceptance for the same email.
		existing, gerr := s.identities.GetByEmail(ctx, email)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	return identity, true, nil
}

// discardIdentity removes an identity created for an acceptance that did
// not commit, so a retry starts from the password it supplies. An identity
// that meanwhile gained a membership is kept.
func (s *Service) discardIdentity(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := tenancy.GetMembership(ctx, s.db, id); err == nil || apperr.KindOf(err) != apperr.KindNotFound {
		return
	}
	if err := s.identities.Delete(ctx, id); err != nil {
		s.logger.Error("discarding identity of failed acceptance", "user_id", id, "error", err)
	}
}

// expireIfStale flips a pending invitation past its expiry. It is best
// effort; the sweep catches anything missed here.
func (s *Service) expireIfStale(ctx context.Context, inv *Invitation) {
	now := s.clock.Now()
	if inv.Status != StatusPending || now.Before(inv.ExpiresAt) {
		return
	}
	ts := database.FormatTime(now)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = 'expired', updated_at = ?
		 WHERE id = ? AND status = 'pending' AND expires_at <= ?`, ts, inv.ID, ts); err != nil {
		s.logger.Warn("expiring invitation on read failed", "invitation_id", inv.ID, "error", err)
	}
}

// Revoke cancels a pending invitation. Admins and above in the invitation's
// organization only.
func (s *Service) Revoke(ctx context.Context, actor authz.Actor, id, reason string) error {
	inv, err := getByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if err := s.engine.Authorize(ctx, actor, inv.OrganizationID, authz.ActionInvitationRevoke, "invitation:"+id); err != nil {
		return err
	}

	now := s.clock.Now()
	if !inv.redeemable(now) {
		s.expireIfStale(ctx, inv)
		return fmt.Errorf("invitation %s is %s: %w", id, inv.Status, apperr.ErrInvitationInvalidOrExpired)
	}
	ts := database.FormatTime(now)
	ok, err := transition(ctx, s.db, id, StatusRevoked,
		"revoked_at = ?, revoked_by = ?, revoke_reason = ?, updated_at = ?",
		ts, actor.UserID, database.NullString(reason), ts)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invitation %s is no longer pending: %w", id, apperr.ErrInvitationInvalidOrExpired)
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: inv.OrganizationID,
		Type:           audit.EventInvitationRevoked,
		Resource:       "invitation:" + id,
		Success:        true,
		Details:        map[string]any{"email": inv.Email, "reason": reason},
	})
	s.observe("revoked")
	return nil
}

// ListPending returns the redeemable invitations of orgID, newest first.
func (s *Service) ListPending(ctx context.Context, actor authz.Actor, orgID string) ([]Invitation, error) {
	if err := s.engine.Authorize(ctx, actor, orgID, authz.ActionInvitationList, "organization:"+orgID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE organization_id = ? AND status = 'pending' AND expires_at > ?
		 ORDER BY created_at DESC, id`,
		orgID, database.FormatTime(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("listing invitations: %w", err)
	}
	defer rows.Close()

	out := []Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invitations: %w", err)
	}
	return out, nil
}

// ExpireSweep flips every pending invitation past its expiry to expired and
// records one invitation_expired summary with the count.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	ts := database.FormatTime(s.clock.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = 'expired', updated_at = ?
		 WHERE status = 'pending' AND expires_at <= ?`, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("expiring invitations: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite

	s.recorder.Record(ctx, audit.Event{
		UserID:  authz.System.UserID,
		Type:    audit.EventInvitationExpired,
		Success: true,
		Details: map[string]any{"count": n},
	})
	if n > 0 {
		s.observe("expired")
	}
	return n, nil
}

func (s *Service) observe(event string) {
	if s.observer != nil {
		s.observer.InvitationEvent(event)
	}
}
