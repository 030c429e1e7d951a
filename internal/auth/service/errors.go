package service

import (
	"errors"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
)

// Outcomes every verb can return. The text doubles as the metrics outcome
// label, so keep it snake_case.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInactiveAccount    = errors.New("inactive_account")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrNotFound           = errors.New("not_found")
	ErrNoChallenge        = errors.New("no_challenge")
	ErrUnknownCredential  = errors.New("unknown_credential")
	ErrReplayDetected     = errors.New("replay_detected")
	ErrVerificationFailed = errors.New("verification_failed")

	ErrRateLimited   = errors.New("rate_limited")
	ErrAlreadyExists = errors.New("already_exists")
	ErrForbidden     = errors.New("forbidden")
	ErrUnknownRole   = domain.ErrUnknownRole
	ErrWeakSecret    = errors.New("weak_secret")
	ErrInvalidInput  = errors.New("invalid_input")
)

var knownErrors = []error{
	ErrInvalidCredentials,
	ErrInactiveAccount,
	ErrInvalidToken,
	ErrNotFound,
	ErrNoChallenge,
	ErrUnknownCredential,
	ErrReplayDetected,
	ErrVerificationFailed,
	ErrRateLimited,
	ErrAlreadyExists,
	ErrForbidden,
	ErrUnknownRole,
	ErrWeakSecret,
	ErrInvalidInput,
}

// Kind returns the sentinel err wraps, or nil for infrastructure failures.
func Kind(err error) error {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return known
		}
	}
	return nil
}

// PublicMessage is what may be shown to whoever made the call. Credential
// and token failures all read the same so they cannot be used to test for
// identifiers; ceremony failures are more specific.
func PublicMessage(err error) string {
	switch Kind(err) {
	case nil:
		if err == nil {
			return ""
		}
		return "internal error"
	case ErrInvalidCredentials, ErrInvalidToken, ErrNotFound:
		return "authentication failed"
	case ErrInactiveAccount:
		return "account is inactive"
	case ErrNoChallenge:
		return "no challenge outstanding, start the ceremony again"
	case ErrUnknownCredential:
		return "credential not recognised"
	case ErrReplayDetected:
		return "credential replay detected"
	case ErrVerificationFailed:
		return "credential verification failed"
	case ErrRateLimited:
		return "too many attempts, try again later"
	case ErrAlreadyExists:
		return "already exists"
	case ErrForbidden:
		return "forbidden"
	case ErrUnknownRole:
		return "unknown role"
	case ErrWeakSecret:
		return "secret does not meet requirements"
	case ErrInvalidInput:
		return "invalid input"
	default:
		return "internal error"
	}
}
