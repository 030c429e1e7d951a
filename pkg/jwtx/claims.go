package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTL constants.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// MaxResetTokenTTL caps the lifetime of password reset tokens.
	MaxResetTokenTTL = 15 * time.Minute
)

// Kind tells access tokens apart from refresh tokens. It is signed like every
// other claim but never trusted implicitly: callers assert it with ExpectKind.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ScopePasswordReset marks an access-kind token that may only authorize a
// single password change.
const ScopePasswordReset = "password_reset"

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims

	// Role tag of the principal the subject id belongs to.
	Role string `json:"role"`

	// Kind is "access" or "refresh".
	Kind Kind `json:"type"`

	// Name is a display-name hint, only set on access tokens.
	Name string `json:"name,omitempty"`

	// Scope narrows what the token authorizes; empty means a normal session.
	Scope string `json:"scope,omitempty"`
}

// NewClaims builds minimally-correct claims with a fresh jti.
func NewClaims(subject, role string, kind Kind, ttl time.Duration, issuer string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Role: role,
		Kind: kind,
	}
}

// NewJTI returns a random UUIDv4 for the "jti" claim, so two tokens minted
// for the same subject in the same second never serialize identically.
func NewJTI() string {
	return uuid.NewString()
}

// Validate is called by the jwt parser after the signature checks out and
// rejects claim sets missing the fields every session token carries.
func (c Claims) Validate() error {
	if c.Subject == "" || c.Role == "" || c.ID == "" {
		return ErrInvalidClaim
	}
	if c.Kind != KindAccess && c.Kind != KindRefresh {
		return ErrInvalidClaim
	}
	return nil
}

// ExpectKind returns ErrWrongKind unless the token is of the given kind.
func (c *Claims) ExpectKind(kind Kind) error {
	if c.Kind != kind {
		return ErrWrongKind
	}
	return nil
}

// ExpectScope returns ErrWrongScope unless the token carries one of scopes.
// An empty list accepts only unscoped tokens.
func (c *Claims) ExpectScope(scopes ...string) error {
	if len(scopes) == 0 {
		if c.Scope != "" {
			return ErrWrongScope
		}
		return nil
	}
	if !slices.Contains(scopes, c.Scope) {
		return ErrWrongScope
	}
	return nil
}

// ExpiresIn is the remaining lifetime at now, floored at zero.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(c.ExpiresAt.Sub(now), 0)
}
