package authz

import (
	"errors"
	"testing"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
)

func TestRoleOrdering(t *testing.T) {
	for i, lower := range Roles {
		for j, higher := range Roles {
			if got, want := higher.AtLeast(lower), j >= i; got != want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", higher, lower, got, want)
			}
		}
	}
	if Role("owner").AtLeast(RoleFieldWorker) {
		t.Error("unknown role should rank below everything")
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Supervisor ")
	if err != nil || r != RoleSupervisor {
		t.Errorf("ParseRole() = %q, %v", r, err)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("ParseRole(owner) error = %v, want ErrInvalidInput", err)
	}
}

func TestHasPermission_FieldWorker(t *testing.T) {
	should := []Action{ActionOrganizationRead, ActionProfileUpdateSelf}
	shouldNot := []Action{
		ActionMemberRead, ActionInvitationCreate, ActionInvitationRevoke,
		ActionAuditRead, ActionMemberRoleChange, ActionSessionRevokeOthers,
	}
	for _, a := range should {
		if !HasPermission(RoleFieldWorker, a) {
			t.Errorf("field_worker should have %s", a)
		}
	}
	for _, a := range shouldNot {
		if HasPermission(RoleFieldWorker, a) {
			t.Errorf("field_worker should NOT have %s", a)
		}
	}
}

func TestHasPermission_Supervisor(t *testing.T) {
	should := []Action{ActionMemberRead, ActionInvitationCreate, ActionInvitationList}
	shouldNot := []Action{ActionInvitationRevoke, ActionAuditRead, ActionMemberDeactivate, ActionMFAReset}
	for _, a := range should {
		if !HasPermission(RoleSupervisor, a) {
			t.Errorf("supervisor should have %s", a)
		}
	}
	for _, a := range shouldNot {
		if HasPermission(RoleSupervisor, a) {
			t.Errorf("supervisor should NOT have %s", a)
		}
	}
}

func TestHasPermission_Monotonic(t *testing.T) {
	// Every permission held by a role is held by every role above it.
	for i, r := range Roles {
		for _, a := range PermissionsForRole(r) {
			for _, higher := range Roles[i+1:] {
				if !HasPermission(higher, a) {
					t.Errorf("%s has %s but %s does not", r, a, higher)
				}
			}
		}
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission("owner", ActionOrganizationRead) {
		t.Error("unknown role should have no permissions")
	}
	if PermissionsForRole("owner") != nil {
		t.Error("PermissionsForRole(unknown) should be nil")
	}
}

func TestRequiredRole(t *testing.T) {
	tests := map[Action]Role{
		ActionOrganizationRead: RoleFieldWorker,
		ActionInvitationCreate: RoleSupervisor,
		ActionAuditRead:        RoleAdmin,
		Action("nothing"):      "",
	}
	for a, want := range tests {
		if got := RequiredRole(a); got != want {
			t.Errorf("RequiredRole(%s) = %q, want %q", a, got, want)
		}
	}
}

func TestCanInvite(t *testing.T) {
	tests := []struct {
		inviter, target Role
		want            bool
	}{
		{RoleFieldWorker, RoleFieldWorker, false},
		{RoleSupervisor, RoleFieldWorker, true},
		{RoleSupervisor, RoleSupervisor, true},
		{RoleSupervisor, RoleAdmin, false},
		{RoleSupervisor, RoleSuperAdmin, false},
		{RoleAdmin, RoleFieldWorker, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleSuperAdmin, RoleSuperAdmin, true},
		{RoleSuperAdmin, Role("owner"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.inviter)+"->"+string(tt.target), func(t *testing.T) {
			if got := CanInvite(tt.inviter, tt.target); got != tt.want {
				t.Errorf("CanInvite(%s, %s) = %v, want %v", tt.inviter, tt.target, got, tt.want)
			}
		})
	}
}

func TestRequiredRoleToInvite(t *testing.T) {
	want := map[Role]Role{
		RoleFieldWorker: RoleSupervisor,
		RoleSupervisor:  RoleSupervisor,
		RoleAdmin:       RoleAdmin,
		RoleSuperAdmin:  RoleSuperAdmin,
	}
	for target, required := range want {
		if got := RequiredRoleToInvite(target); got != required {
			t.Errorf("RequiredRoleToInvite(%s) = %s, want %s", target, got, required)
		}
	}
}

func TestValidateProfilePatch(t *testing.T) {
	if err := ValidateProfilePatch([]string{"display_name", "preferences"}); err != nil {
		t.Errorf("benign patch error = %v", err)
	}
	for _, f := range []string{FieldRole, FieldOrganizationID} {
		if err := ValidateProfilePatch([]string{"display_name", f}); !errors.Is(err, apperr.ErrInsufficientRole) {
			t.Errorf("patch with %s error = %v, want ErrInsufficientRole", f, err)
		}
	}
}
