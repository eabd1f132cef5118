// Package authz implements the role hierarchy, the static permission matrix
// and the invitation rules that gate every tenant-scoped operation.
package authz

import (
	"fmt"
	"strings"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
)

// Role is a member's position in the strict hierarchy
// field_worker < supervisor < admin < super_admin.
type Role string

// Role constants.
const (
	RoleFieldWorker Role = "field_worker"
	RoleSupervisor  Role = "supervisor"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super_admin"
)

// Roles lists every role from lowest to highest.
var Roles = []Role{RoleFieldWorker, RoleSupervisor, RoleAdmin, RoleSuperAdmin}

var roleLevels = map[Role]int{
	RoleFieldWorker: 1,
	RoleSupervisor:  2,
	RoleAdmin:       3,
	RoleSuperAdmin:  4,
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, s)
	}
	return r, nil
}

// Valid reports whether r is one of the four roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level returns the rank of r, or 0 for an unknown role.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r ranks at or above other. Unknown roles rank
// below everything.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Level() >= other.Level()
}

func (r Role) String() string { return string(r) }

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	OrgID  string
	Role   Role
}

// System is the actor used by sweeps and bootstrap.
var System = Actor{UserID: "system", Role: RoleSuperAdmin}
