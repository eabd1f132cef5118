package security

import (
	"context"
	"errors"
	"testing"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
)

func TestMFALifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedMember(t, "idn-u", authz.RoleFieldWorker)

	if err := InsertDefaultMFASettings(ctx, f.db, u.UserID, f.clk.Now()); err != nil {
		t.Fatalf("InsertDefaultMFASettings() error = %v", err)
	}
	s, err := f.guard.GetMFASettings(ctx, u, u.UserID)
	if err != nil {
		t.Fatalf("GetMFASettings() error = %v", err)
	}
	if s.Enabled() {
		t.Error("default settings should be disabled")
	}

	s, err = f.guard.EnableMFA(ctx, u, MFATOTP, "vault://totp/idn-u", 10)
	if err != nil {
		t.Fatalf("EnableMFA() error = %v", err)
	}
	if !s.TOTPEnabled || s.BackupCodesRemaining != 10 {
		t.Errorf("after enable: %+v", s)
	}

	if err := f.guard.MarkMFAUsed(ctx, u.UserID); err != nil {
		t.Fatalf("MarkMFAUsed() error = %v", err)
	}
	s, err = f.guard.MFAForLogin(ctx, u.UserID)
	if err != nil {
		t.Fatalf("MFAForLogin() error = %v", err)
	}
	if s.LastUsedAt == nil || s.SecretRef != "vault://totp/idn-u" {
		t.Errorf("after use: %+v", s)
	}

	s, err = f.guard.DisableMFA(ctx, u, MFATOTP)
	if err != nil {
		t.Fatalf("DisableMFA() error = %v", err)
	}
	if s.Enabled() || s.SecretRef != "" {
		t.Errorf("after disable: %+v", s)
	}

	if f.rec.Count(audit.EventMFAEnabled) != 1 || f.rec.Count(audit.EventMFADisabled) != 1 {
		t.Error("expected one mfa_enabled and one mfa_disabled event")
	}
}

func TestEnableMFA_LazyCreate(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "idn-u", authz.RoleFieldWorker)

	s, err := f.guard.EnableMFA(context.Background(), u, MFASMS, "sms://+910000000000", 0)
	if err != nil {
		t.Fatalf("EnableMFA() without prior row error = %v", err)
	}
	if !s.SMSEnabled {
		t.Error("SMS should be enabled")
	}

	if _, err := f.guard.EnableMFA(context.Background(), u, "carrier-pigeon", "x", 0); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("unknown method error = %v, want ErrInvalidInput", err)
	}
}

func TestResetMFA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedMember(t, "idn-admin", authz.RoleAdmin)
	sup := f.seedMember(t, "idn-sup", authz.RoleSupervisor)
	u := f.seedMember(t, "idn-u", authz.RoleFieldWorker)

	if _, err := f.guard.EnableMFA(ctx, u, MFATOTP, "vault://totp/idn-u", 8); err != nil {
		t.Fatalf("EnableMFA() error = %v", err)
	}

	if err := f.guard.ResetMFA(ctx, sup, u.UserID); !errors.Is(err, apperr.ErrInsufficientRole) {
		t.Errorf("supervisor reset error = %v, want ErrInsufficientRole", err)
	}
	outsider := authz.Actor{UserID: "idn-x", OrgID: "org-other", Role: authz.RoleSuperAdmin}
	if err := f.guard.ResetMFA(ctx, outsider, u.UserID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("cross-org reset error = %v, want ErrForbidden", err)
	}

	if err := f.guard.ResetMFA(ctx, admin, u.UserID); err != nil {
		t.Fatalf("ResetMFA() error = %v", err)
	}
	s, err := f.guard.GetMFASettings(ctx, admin, u.UserID)
	if err != nil {
		t.Fatalf("GetMFASettings() as admin error = %v", err)
	}
	if s.Enabled() || s.SecretRef != "" || s.BackupCodesRemaining != 0 {
		t.Errorf("after reset: %+v", s)
	}
	if f.rec.Count(audit.EventMFAReset) != 1 {
		t.Error("expected one mfa_reset event")
	}

	if _, err := f.guard.GetMFASettings(ctx, sup, u.UserID); !errors.Is(err, apperr.ErrInsufficientRole) {
		t.Errorf("supervisor reading other's MFA error = %v, want ErrInsufficientRole", err)
	}
}
