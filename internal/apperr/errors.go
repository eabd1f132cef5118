// Package apperr defines the error taxonomy shared by every identity-core
// component. Components wrap these sentinels with context; callers match
// them with errors.Is and map them to public messages with PublicMessage.
package apperr

import "errors"

// Sentinel errors, one per failure kind.
var (
	ErrDuplicateSlug              = errors.New("organization slug already taken")
	ErrInsufficientRole           = errors.New("insufficient role")
	ErrInvitationInvalidOrExpired = errors.New("invitation invalid or expired")
	ErrAlreadyMember              = errors.New("identity is already a member")
	ErrDuplicatePendingInvitation = errors.New("a pending invitation already exists for this email")
	ErrOrganizationFull           = errors.New("organization has reached its user limit")
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrAccountLocked              = errors.New("account temporarily locked")
	ErrSessionExpired             = errors.New("session expired")
	ErrForbidden                  = errors.New("forbidden")
	ErrPasswordReused             = errors.New("password was used recently")
	ErrNotFound                   = errors.New("not found")
	ErrInvalidInput               = errors.New("invalid input")
	ErrMFARequired                = errors.New("multi-factor code required")
)

// Kind names a failure category. The values are stable and safe to expose.
type Kind string

// Failure kinds.
const (
	KindDuplicateSlug              Kind = "duplicate_slug"
	KindInsufficientRole           Kind = "insufficient_role"
	KindInvitationInvalidOrExpired Kind = "invitation_invalid_or_expired"
	KindAlreadyMember              Kind = "already_member"
	KindDuplicatePendingInvitation Kind = "duplicate_pending_invitation"
	KindOrganizationFull           Kind = "organization_full"
	KindInvalidCredentials         Kind = "invalid_credentials"
	KindAccountLocked              Kind = "account_locked"
	KindSessionExpired             Kind = "session_expired"
	KindForbidden                  Kind = "forbidden"
	KindPasswordReused             Kind = "password_reused"
	KindNotFound                   Kind = "not_found"
	KindInvalidInput               Kind = "invalid_input"
	KindMFARequired                Kind = "mfa_required"
	KindInternal                   Kind = "internal"
)

type entry struct {
	err     error
	kind    Kind
	message string
}

// catalogue is ordered; the first match wins.
var catalogue = []entry{
	{ErrDuplicateSlug, KindDuplicateSlug, "That organization identifier is already in use."},
	{ErrInsufficientRole, KindInsufficientRole, "You do not have permission to perform this action."},
	{ErrInvitationInvalidOrExpired, KindInvitationInvalidOrExpired, "This invitation is invalid or has expired."},
	{ErrAlreadyMember, KindAlreadyMember, "This account already belongs to an organization."},
	{ErrDuplicatePendingInvitation, KindDuplicatePendingInvitation, "An invitation is already pending for this email."},
	{ErrOrganizationFull, KindOrganizationFull, "The organization has reached its user limit."},
	{ErrInvalidCredentials, KindInvalidCredentials, "Invalid email or password."},
	{ErrAccountLocked, KindAccountLocked, "Too many failed attempts. Try again later."},
	{ErrSessionExpired, KindSessionExpired, "Your session has expired. Sign in again."},
	{ErrForbidden, KindForbidden, "You do not have access to this resource."},
	{ErrPasswordReused, KindPasswordReused, "Choose a password you have not used recently."},
	{ErrNotFound, KindNotFound, "The requested resource was not found."},
	{ErrInvalidInput, KindInvalidInput, "The request is invalid."},
	{ErrMFARequired, KindMFARequired, "A verification code is required."},
}

const internalMessage = "Something went wrong. Try again later."

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, e := range catalogue {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return KindInternal
}

// PublicMessage returns a stable message for err that never leaks internal
// detail. When revealLockout is false a locked account renders exactly like
// bad credentials so the response does not confirm the account exists.
func PublicMessage(err error, revealLockout bool) string {
	if err == nil {
		return ""
	}
	if !revealLockout && errors.Is(err, ErrAccountLocked) {
		return PublicMessage(ErrInvalidCredentials, true)
	}
	for _, e := range catalogue {
		if errors.Is(err, e.err) {
			return e.message
		}
	}
	return internalMessage
}

// PublicKind is KindOf with the same lockout masking as PublicMessage.
func PublicKind(err error, revealLockout bool) Kind {
	if !revealLockout && errors.Is(err, ErrAccountLocked) {
		return KindInvalidCredentials
	}
	return KindOf(err)
}
