package authz

import (
	"fmt"
	"slices"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
)

// Action is a named capability checked against the permission matrix.
type Action string

// Action constants.
const (
	ActionOrganizationRead    Action = "organization:read"
	ActionOrganizationUpdate  Action = "organization:update"
	ActionMemberRead          Action = "member:read"
	ActionMemberUpdate        Action = "member:update"
	ActionMemberRoleChange    Action = "member:role_change"
	ActionMemberDeactivate    Action = "member:deactivate"
	ActionMemberDelete        Action = "member:delete"
	ActionInvitationCreate    Action = "invitation:create"
	ActionInvitationRevoke    Action = "invitation:revoke"
	ActionInvitationList      Action = "invitation:list"
	ActionSessionListOthers   Action = "session:list_others"
	ActionSessionRevokeOthers Action = "session:revoke_others"
	ActionAuditRead           Action = "audit:read"
	ActionMFAReset            Action = "mfa:reset"
	ActionProfileUpdateSelf   Action = "profile:update_self"
)

var (
	fieldWorkerPermissions = []Action{
		ActionOrganizationRead,
		ActionProfileUpdateSelf,
	}

	supervisorPermissions = append(slices.Clone(fieldWorkerPermissions),
		ActionMemberRead,
		ActionInvitationCreate,
		ActionInvitationList,
	)

	adminPermissions = append(slices.Clone(supervisorPermissions),
		ActionOrganizationUpdate,
		ActionMemberUpdate,
		ActionMemberRoleChange,
		ActionMemberDeactivate,
		ActionMemberDelete,
		ActionInvitationRevoke,
		ActionSessionListOthers,
		ActionSessionRevokeOthers,
		ActionAuditRead,
		ActionMFAReset,
	)
)

// rolePermissions maps each role to its granted actions. It is the single
// source of truth for the authorisation model and never changes at runtime.
// super_admin holds everything admin holds; its extra reach is in role
// grants and invitations, not in the matrix.
var rolePermissions = map[Role][]Action{
	RoleFieldWorker: fieldWorkerPermissions,
	RoleSupervisor:  supervisorPermissions,
	RoleAdmin:       adminPermissions,
	RoleSuperAdmin:  adminPermissions,
}

// HasPermission reports whether role is granted action.
func HasPermission(role Role, action Action) bool {
	return slices.Contains(rolePermissions[role], action)
}

// PermissionsForRole returns a copy of the actions granted to role, or nil
// for an unknown role.
func PermissionsForRole(role Role) []Action {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	return slices.Clone(perms)
}

// RequiredRole returns the lowest role granted action, or "" if none is.
func RequiredRole(action Action) Role {
	for _, r := range Roles {
		if HasPermission(r, action) {
			return r
		}
	}
	return ""
}

// RequiredRoleToInvite returns the minimum inviter role for an invitation
// carrying target.
func RequiredRoleToInvite(target Role) Role {
	switch target {
	case RoleFieldWorker, RoleSupervisor:
		return RoleSupervisor
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleSuperAdmin
	}
}

// CanInvite reports whether inviter may issue an invitation for target.
// Field workers never invite and supervisors never invite admin or above.
func CanInvite(inviter, target Role) bool {
	if !inviter.AtLeast(RoleSupervisor) || !target.Valid() {
		return false
	}
	if inviter == RoleSupervisor && target.AtLeast(RoleAdmin) {
		return false
	}
	return inviter.AtLeast(RequiredRoleToInvite(target))
}

// Profile fields that self-service updates may never touch.
const (
	FieldRole           = "role"
	FieldOrganizationID = "organization_id"
)

// ValidateProfilePatch rejects patches that try to change role or
// organization. Those go through ChangeRole or nowhere.
func ValidateProfilePatch(fields []string) error {
	for _, f := range fields {
		if f == FieldRole || f == FieldOrganizationID {
			return fmt.Errorf("%w: field %q cannot be changed through a profile update", apperr.ErrInsufficientRole, f)
		}
	}
	return nil
}
