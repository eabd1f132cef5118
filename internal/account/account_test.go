package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/invitation"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/notify"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/security"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	ann := f.user(t, "ann@x.com", x.ID, authz.RoleSupervisor)

	res := f.login(t, "Ann@X.com", goodPass)
	if res.Session.UserID != ann.UserID || res.Session.OrganizationID != x.ID {
		t.Errorf("Session = %+v", res.Session)
	}
	if len(res.SessionToken) != 64 || res.AccessToken == "" {
		t.Error("expected session and access tokens")
	}
	if !res.AccessTokenExpiresAt.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("AccessTokenExpiresAt = %v", res.AccessTokenExpiresAt)
	}
	if res.MFAEnrollmentRequired {
		t.Error("MFAEnrollmentRequired should be false")
	}

	if n := f.rec.Count(audit.EventLogin); n != 1 {
		t.Errorf("login events = %d, want 1", n)
	}
	if n := f.rec.Count(audit.EventLoginFailed); n != 0 {
		t.Errorf("login_failed events = %d, want 0", n)
	}

	m, err := f.dir.GetMembership(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("GetMembership() error = %v", err)
	}
	if m.LastLoginAt == nil || !m.LastLoginAt.Equal(t0) {
		t.Errorf("LastLoginAt = %v, want %v", m.LastLoginAt, t0)
	}

	p, err := f.svc.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.Actor != ann || p.Session.ID != res.Session.ID {
		t.Errorf("Authenticate() = %+v", p)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	x := f.org(t, "x")
	f.user(t, "ann@x.com", x.ID, authz.RoleFieldWorker)

	tests := []struct {
		name   string
		email  string
		pass   string
		reason string
	}{
		{"wrong password", "ann@x.com", "not the password", "bad_password"},
		{"unknown email", "nobody@x.com", goodPass, "unknown_identity"},
		{"malformed email", "not-an-email", goodPass, "malformed_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.rec.Count(audit.EventLoginFailed)
			_, err := f.svc.Login(context.Background(), LoginRequest{Email: tt.email, Password: tt.pass})
			if !errors.Is(err, apperr.ErrInvalidCredentials) {
				t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
			}
			events := f.rec.OfType(audit.EventLoginFailed)
			if len(events) != before+1 {
				t.Fatalf("login_failed events = %d, want %d", len(events), before+1)
			}
			if got := events[len(events)-1].Details["reason"]; got != tt.reason {
				t.Errorf("reason = %v, want %s", got, tt.reason)
			}
		})
	}
}

// Five failures inside ten minutes lock carol out; the correct password on
// the sixth attempt still fails.
func TestScenarioB_LockoutRejectsCorrectPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	f.user(t, "carol@x.com", x.ID, authz.RoleFieldWorker)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, LoginRequest{Email: "carol@x.com", Password: "guess"})
		if !errors.Is(err, apperr.ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i+1, err)
		}
		f.clk.Advance(2 * time.Minute)
	}

	st, err := f.svc.CheckLockout(ctx, "carol@x.com")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if !st.Locked || st.Remaining != 0 || st.FailedCount != 5 {
		t.Errorf("CheckLockout() = %+v, want locked with remaining 0", st)
	}

	_, err = f.svc.Login(ctx, LoginRequest{Email: "carol@x.com", Password: goodPass})
	if !errors.Is(err, apperr.ErrAccountLocked) {
		t.Fatalf("Login(correct password) error = %v, want ErrAccountLocked", err)
	}
	if n := f.rec.Count(audit.EventLogin); n != 0 {
		t.Errorf("login events = %d, want 0", n)
	}
	if n := f.rec.Count(audit.EventAccountLocked); n != 1 {
		t.Errorf("account_locked events = %d, want 1", n)
	}
	if n := len(f.queue.ofKind(notify.KindSecurityAlert)); n != 1 {
		t.Errorf("security alerts = %d, want 1", n)
	}

	// Hidden by default, the lockout renders like a bad password.
	if kind, msg := f.svc.PublicError(err); kind != apperr.KindInvalidCredentials ||
		msg != apperr.PublicMessage(apperr.ErrInvalidCredentials, false) {
		t.Errorf("PublicError(locked) = %q, %q, want invalid credentials", kind, msg)
	}

	// The window rolls past the first failure and the account opens again.
	f.clk.Advance(time.Hour)
	f.login(t, "carol@x.com", goodPass)
}

func TestUnlockAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	y := f.org(t, "y")
	admin := f.user(t, "admin@x.com", x.ID, authz.RoleAdmin)
	super := f.user(t, "sup@x.com", x.ID, authz.RoleSupervisor)
	outsider := f.user(t, "admin@y.com", y.ID, authz.RoleAdmin)
	f.user(t, "dan@x.com", x.ID, authz.RoleFieldWorker)

	for i := 0; i < 5; i++ {
		f.svc.Login(ctx, LoginRequest{Email: "dan@x.com", Password: "guess"}) //nolint:errcheck // failures expected
	}

	if err := f.svc.UnlockAccount(ctx, super, "dan@x.com"); !errors.Is(err, apperr.ErrInsufficientRole) {
		t.Errorf("UnlockAccount(supervisor) error = %v, want ErrInsufficientRole", err)
	}
	if err := f.svc.UnlockAccount(ctx, outsider, "dan@x.com"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("UnlockAccount(other org) error = %v, want ErrForbidden", err)
	}
	if err := f.svc.UnlockAccount(ctx, admin, "dan@x.com"); err != nil {
		t.Fatalf("UnlockAccount(admin) error = %v", err)
	}
	if n := f.rec.Count(audit.EventAccountUnlocked); n != 1 {
		t.Errorf("account_unlocked events = %d, want 1", n)
	}
	f.login(t, "dan@x.com", goodPass)
}

func TestLogin_InactiveMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	admin := f.user(t, "admin@x.com", x.ID, authz.RoleAdmin)
	eve := f.user(t, "eve@x.com", x.ID, authz.RoleFieldWorker)

	if err := f.dir.Deactivate(ctx, admin, eve.UserID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	_, err := f.svc.Login(ctx, LoginRequest{Email: "eve@x.com", Password: goodPass})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Login() error = %v, want ErrForbidden", err)
	}
}

func TestLogin_MFA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	ann := f.user(t, "ann@x.com", x.ID, authz.RoleAdmin)

	if _, err := f.guard.EnableMFA(ctx, ann, security.MFATOTP, "vault:ann", 8); err != nil {
		t.Fatalf("EnableMFA() error = %v", err)
	}

	_, err := f.svc.Login(ctx, LoginRequest{Email: "ann@x.com", Password: goodPass})
	if !errors.Is(err, apperr.ErrMFARequired) {
		t.Fatalf("Login(no code) error = %v, want ErrMFARequired", err)
	}
	st, _ := f.svc.CheckLockout(ctx, "ann@x.com") //nolint:errcheck // read-only
	if st.FailedCount != 0 {
		t.Errorf("missing code counted as failure: %+v", st)
	}

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ann@x.com", Password: goodPass, MFACode: "000000"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("Login(bad code) error = %v, want ErrInvalidCredentials", err)
	}

	res, err := f.svc.Login(ctx, LoginRequest{Email: "ann@x.com", Password: goodPass, MFACode: validMFA})
	if err != nil {
		t.Fatalf("Login(valid code) error = %v", err)
	}
	settings, err := f.guard.MFAForLogin(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("MFAForLogin() error = %v", err)
	}
	if settings.LastUsedAt == nil || res.MFAEnrollmentRequired {
		t.Errorf("settings = %+v, enrollment = %v", settings, res.MFAEnrollmentRequired)
	}
}

func TestLogin_MFAEnrollmentRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org, err := f.dir.CreateOrganization(ctx, tenancy.NewOrganization{
		Name: "Strict", Slug: "strict", MaxUsers: 5, MFARequired: true,
	})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	f.user(t, "ann@strict.io", org.ID, authz.RoleFieldWorker)

	if res := f.login(t, "ann@strict.io", goodPass); !res.MFAEnrollmentRequired {
		t.Error("MFAEnrollmentRequired should be set")
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	admin := f.user(t, "admin@x.com", x.ID, authz.RoleAdmin)
	bob := f.user(t, "bob@x.com", x.ID, authz.RoleFieldWorker)

	t.Run("garbage token", func(t *testing.T) {
		if _, err := f.svc.Authenticate(ctx, "not.a.jwt"); !errors.Is(err, apperr.ErrInvalidCredentials) {
			t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("role change applies before expiry", func(t *testing.T) {
		res := f.login(t, "bob@x.com", goodPass)
		if _, err := f.dir.ChangeRole(ctx, admin, bob.UserID, authz.RoleSupervisor); err != nil {
			t.Fatalf("ChangeRole() error = %v", err)
		}
		p, err := f.svc.Authenticate(ctx, res.AccessToken)
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if p.Actor.Role != authz.RoleSupervisor {
			t.Errorf("Role = %s, want supervisor", p.Actor.Role)
		}
	})

	t.Run("logout kills the access token", func(t *testing.T) {
		res := f.login(t, "bob@x.com", goodPass)
		if err := f.svc.Logout(ctx, res.SessionToken); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if _, err := f.svc.Authenticate(ctx, res.AccessToken); !errors.Is(err, apperr.ErrSessionExpired) {
			t.Errorf("Authenticate() after logout error = %v, want ErrSessionExpired", err)
		}
	})

	t.Run("expired access token", func(t *testing.T) {
		res := f.login(t, "bob@x.com", goodPass)
		f.clk.Advance(16 * time.Minute)
		if _, err := f.svc.Authenticate(ctx, res.AccessToken); !errors.Is(err, apperr.ErrSessionExpired) {
			t.Errorf("Authenticate() error = %v, want ErrSessionExpired", err)
		}
	})
}

func TestSessions_ListAndLogoutEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	y := f.org(t, "y")
	ann := f.user(t, "ann@x.com", x.ID, authz.RoleFieldWorker)
	other := f.user(t, "ola@y.com", y.ID, authz.RoleAdmin)

	f.login(t, "ann@x.com", goodPass)
	f.login(t, "ann@x.com", goodPass)

	list, err := f.svc.ListSessions(ctx, ann, ann.UserID, "")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListSessions() = %d sessions, want 2", len(list))
	}
	if _, err := f.svc.ListSessions(ctx, other, ann.UserID, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("ListSessions(other org) error = %v, want ErrForbidden", err)
	}

	n, err := f.svc.LogoutEverywhere(ctx, ann, ann.UserID)
	if err != nil || n != 2 {
		t.Fatalf("LogoutEverywhere() = %d, %v", n, err)
	}
	list, _ = f.svc.ListSessions(ctx, ann, ann.UserID, "") //nolint:errcheck // asserted above
	if len(list) != 0 {
		t.Errorf("sessions after LogoutEverywhere = %d", len(list))
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	ann := f.user(t, "ann@x.com", x.ID, authz.RoleFieldWorker)
	const next = "a brand new passphrase"

	tests := []struct {
		name    string
		old     string
		new     string
		wantErr error
	}{
		{"wrong old password", "nope", next, apperr.ErrInvalidCredentials},
		{"too short", goodPass, "short", apperr.ErrInvalidInput},
		{"reuses current password", goodPass, goodPass, apperr.ErrPasswordReused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.svc.ChangePassword(ctx, ann, tt.old, tt.new); !errors.Is(err, tt.wantErr) {
				t.Errorf("ChangePassword() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if n := f.rec.Count(audit.EventPasswordChange); n != 0 {
		t.Fatalf("password_change events after failures = %d, want 0", n)
	}

	if err := f.svc.ChangePassword(ctx, ann, goodPass, next); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if n := f.rec.Count(audit.EventPasswordChange); n != 1 {
		t.Errorf("password_change events = %d, want 1", n)
	}
	if n := len(f.queue.ofKind(notify.KindSecurityAlert)); n != 1 {
		t.Errorf("security alerts = %d, want 1", n)
	}

	if _, err := f.svc.Login(ctx, LoginRequest{Email: "ann@x.com", Password: goodPass}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("Login(old password) error = %v", err)
	}
	f.login(t, "ann@x.com", next)

	if err := f.svc.ChangePassword(ctx, ann, next, goodPass); !errors.Is(err, apperr.ErrPasswordReused) {
		t.Errorf("changing back error = %v, want ErrPasswordReused", err)
	}
}

func TestQueryAuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	y := f.org(t, "y")
	admin := f.user(t, "admin@x.com", x.ID, authz.RoleAdmin)
	super := f.user(t, "sup@x.com", x.ID, authz.RoleSupervisor)
	outsider := f.user(t, "admin@y.com", y.ID, authz.RoleAdmin)

	f.auditLog.Record(ctx, audit.Event{OrganizationID: x.ID, UserID: admin.UserID, Type: audit.EventLogin, Success: true})
	f.auditLog.Record(ctx, audit.Event{OrganizationID: y.ID, UserID: outsider.UserID, Type: audit.EventLogin, Success: true})

	res, err := f.svc.QueryAuditLog(ctx, admin, x.ID, audit.Filter{})
	if err != nil {
		t.Fatalf("QueryAuditLog() error = %v", err)
	}
	if res.Total != 1 || res.Events[0].OrganizationID != x.ID {
		t.Errorf("QueryAuditLog() = %+v", res)
	}

	if _, err := f.svc.QueryAuditLog(ctx, super, x.ID, audit.Filter{}); !errors.Is(err, apperr.ErrInsufficientRole) {
		t.Errorf("QueryAuditLog(supervisor) error = %v, want ErrInsufficientRole", err)
	}
	if _, err := f.svc.QueryAuditLog(ctx, outsider, x.ID, audit.Filter{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("QueryAuditLog(other org) error = %v, want ErrForbidden", err)
	}
}

func TestInvitationThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.org(t, "x")
	admin := f.user(t, "admin@x.com", x.ID, authz.RoleAdmin)

	_, token, err := f.svc.Invite(ctx, admin, invitation.NewInvitation{
		OrganizationID: x.ID, Email: "bob@x.com", Role: authz.RoleSupervisor,
	})
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	view, err := f.svc.ValidateInvitation(ctx, token)
	if err != nil || view.Role != authz.RoleSupervisor {
		t.Fatalf("ValidateInvitation() = %+v, %v", view, err)
	}
	m, err := f.svc.AcceptInvitation(ctx, token, invitation.AcceptInput{Password: goodPass, DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}

	res := f.login(t, "bob@x.com", goodPass)
	if res.Membership.ID != m.ID || res.Membership.Role != authz.RoleSupervisor {
		t.Errorf("Login() membership = %+v", res.Membership)
	}

	// The accepted password is in history from the start.
	if err := f.svc.ChangePassword(ctx, m.Actor(), goodPass, goodPass); !errors.Is(err, apperr.ErrPasswordReused) {
		t.Errorf("ChangePassword() error = %v, want ErrPasswordReused", err)
	}
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := BootstrapConfig{
		OrganizationName: "Neer Thuli",
		OrganizationSlug: "Neer-Thuli",
		AdminEmail:       "Root@Neer.io",
		MaxUsers:         50,
	}

	res, err := f.svc.Bootstrap(ctx, cfg)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if res == nil || res.Email != "root@neer.io" || len(res.Password) != 32 {
		t.Fatalf("Bootstrap() = %+v", res)
	}
	if res.Organization.Slug != "neer-thuli" || res.Membership.Role != authz.RoleSuperAdmin {
		t.Errorf("Bootstrap() org = %+v, membership = %+v", res.Organization, res.Membership)
	}

	login := f.login(t, "root@neer.io", res.Password)
	if login.Membership.Role != authz.RoleSuperAdmin {
		t.Errorf("bootstrap login role = %s", login.Membership.Role)
	}

	again, err := f.svc.Bootstrap(ctx, cfg)
	if err != nil || again != nil {
		t.Errorf("second Bootstrap() = %+v, %v, want nil, nil", again, err)
	}
}

// flakyIdentities fails the next n Create calls.
type flakyIdentities struct {
	auth.IdentityStore
	n int
}

func (f *flakyIdentities) Create(ctx context.Context, identity *auth.Identity) error {
	if f.n > 0 {
		f.n--
		return errors.New("disk full")
	}
	return f.IdentityStore.Create(ctx, identity)
}

func TestBootstrap_RecoversFromPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.identities = &flakyIdentities{IdentityStore: f.identities, n: 1}
	cfg := BootstrapConfig{
		OrganizationName: "Neer Thuli",
		OrganizationSlug: "neer-thuli",
		AdminEmail:       "root@neer.io",
		MaxUsers:         50,
	}

	if _, err := f.svc.Bootstrap(ctx, cfg); err == nil {
		t.Fatal("Bootstrap() with failing identity store expected error")
	}

	res, err := f.svc.Bootstrap(ctx, cfg)
	if err != nil {
		t.Fatalf("Bootstrap(retry) error = %v", err)
	}
	if res == nil {
		t.Fatal("Bootstrap(retry) returned nil, want a new administrator")
	}
	existing, err := f.dir.GetOrganizationBySlug(ctx, "neer-thuli")
	if err != nil {
		t.Fatalf("GetOrganizationBySlug() error = %v", err)
	}
	if res.Organization.ID != existing.ID {
		t.Errorf("retry organization = %s, want reused %s", res.Organization.ID, existing.ID)
	}
	f.login(t, "root@neer.io", res.Password)
}
