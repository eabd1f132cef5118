package authz

import (
	"context"
	"fmt"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
)

// Engine evaluates permission checks and leaves an access_denied trail for
// every refusal.
type Engine struct {
	recorder audit.Recorder
}

// NewEngine creates an Engine that records denials to rec.
func NewEngine(rec audit.Recorder) *Engine {
	return &Engine{recorder: rec}
}

// Authorize checks that actor belongs to orgID and holds action.
func (e *Engine) Authorize(ctx context.Context, actor Actor, orgID string, action Action, resource string) error {
	if actor.OrgID != orgID {
		return e.Deny(ctx, actor, string(action), RequiredRole(action), resource, apperr.ErrForbidden)
	}
	if !HasPermission(actor.Role, action) {
		return e.Deny(ctx, actor, string(action), RequiredRole(action), resource, apperr.ErrInsufficientRole)
	}
	return nil
}

// AuthorizeInvite checks that actor may invite someone with role target
// into orgID.
func (e *Engine) AuthorizeInvite(ctx context.Context, actor Actor, orgID string, target Role) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, target)
	}
	required := RequiredRoleToInvite(target)
	if actor.OrgID != orgID {
		return e.Deny(ctx, actor, "invite", required, "invitation", apperr.ErrForbidden)
	}
	if !CanInvite(actor.Role, target) {
		return e.Deny(ctx, actor, "invite", required, "invitation", apperr.ErrInsufficientRole)
	}
	return nil
}

// AuthorizeProfilePatch checks that actor may apply a patch touching fields
// to the member targetUserID of targetOrgID. Members edit themselves;
// editing anyone else needs member:update in the same organization.
func (e *Engine) AuthorizeProfilePatch(ctx context.Context, actor Actor, targetUserID, targetOrgID string, fields []string) error {
	if err := ValidateProfilePatch(fields); err != nil {
		e.record(ctx, actor, "profile_update", "", "membership:"+targetUserID, err)
		return err
	}
	if actor.UserID == targetUserID && actor.OrgID == targetOrgID {
		return e.Authorize(ctx, actor, targetOrgID, ActionProfileUpdateSelf, "membership:"+targetUserID)
	}
	return e.Authorize(ctx, actor, targetOrgID, ActionMemberUpdate, "membership:"+targetUserID)
}

// Deny records an access_denied event and returns err wrapped with the
// attempted action.
func (e *Engine) Deny(ctx context.Context, actor Actor, attempted string, required Role, resource string, err error) error {
	wrapped := fmt.Errorf("%s: %w", attempted, err)
	e.record(ctx, actor, attempted, required, resource, wrapped)
	return wrapped
}

func (e *Engine) record(ctx context.Context, actor Actor, attempted string, required Role, resource string, err error) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, audit.Event{
		UserID:         actor.UserID,
		OrganizationID: actor.OrgID,
		Type:           audit.EventAccessDenied,
		Resource:       resource,
		Success:        false,
		Error:          err.Error(),
		Details: map[string]any{
			"attemptedAction": attempted,
			"requiredRole":    string(required),
			"actorRole":       string(actor.Role),
			"resource":        resource,
		},
	})
}
