// Package challenge holds the single outstanding ceremony challenge per key.
//
// Issue replaces whatever was stored for the key; Take returns and removes it,
// so a captured challenge can be redeemed at most once.
package challenge

import (
	"context"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
)

const (
	// DefaultTTL is how long an unanswered challenge stays redeemable.
	DefaultTTL = 5 * time.Minute

	// Size is the number of random bytes in a challenge.
	Size = cryptox.TokenSize256
)

// Store is the take-once challenge store shared by both ceremony flows.
type Store interface {
	// Issue creates a fresh challenge for key, replacing any existing one.
	Issue(ctx context.Context, key string) (domain.Challenge, error)

	// Take returns and removes the challenge for key. ok is false when there
	// is none, it was already taken, or it has expired.
	Take(ctx context.Context, key string) (c domain.Challenge, ok bool, err error)
}

func newChallenge(key string, now time.Time, ttl time.Duration) (domain.Challenge, error) {
	value, err := cryptox.RandomBytes(Size)
	if err != nil {
		return domain.Challenge{}, err
	}
	return domain.Challenge{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
	}, nil
}
