package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
)

// DefaultAccessTokenTTL applies when a non-positive TTL is configured.
const DefaultAccessTokenTTL = 15 * time.Minute

// AccessClaims are the JWT claims of an access token. The token is only as
// good as the session it names: callers re-check the session on use.
type AccessClaims struct {
	jwt.RegisteredClaims
	OrganizationID string     `json:"org"`
	Role           authz.Role `json:"role"`
	SessionID      string     `json:"sid"`
}

// Subject identifies who an access token is issued to.
type Subject struct {
	UserID         string
	OrganizationID string
	Role           authz.Role
	SessionID      string
}

// GenerateAccessToken creates a signed HS256 access token for sub.
func GenerateAccessToken(sub Subject, secret string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		OrganizationID: sub.OrganizationID,
		Role:           sub.Role,
		SessionID:      sub.SessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates signature, expiry and required claims.
func ParseAccessToken(tokenString, secret string, opts ...jwt.ParserOption) (*AccessClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	switch {
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	case claims.OrganizationID == "":
		return nil, fmt.Errorf("%w: missing organization", ErrTokenInvalid)
	case !claims.Role.Valid():
		return nil, fmt.Errorf("%w: invalid role", ErrTokenInvalid)
	case claims.SessionID == "":
		return nil, fmt.Errorf("%w: missing session", ErrTokenInvalid)
	}

	return claims, nil
}
