package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
)

// Identity is a login-capable person, independent of any organization.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"` // never serialised
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Auth-specific errors.
var (
	ErrEmailExists    = errors.New("email already registered")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrMFAUnavailable = errors.New("mfa verification not available")
)

// NormalizeEmail validates a bare address and returns it lowercased.
// Display-name forms such as "Ann <ann@x.io>" are rejected.
func NormalizeEmail(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return "", fmt.Errorf("%w: invalid email address %q", apperr.ErrInvalidInput, raw)
	}
	return strings.ToLower(addr.Address), nil
}
