package challenge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces challenge keys.
const DefaultRedisPrefix = "rc:chal"

var ErrRedisUnavailable = errors.New("challenge: redis unavailable")

// RedisStore keeps challenges in redis so several processes can share
// ceremonies. Take is a single GETDEL, which makes take-once hold across
// processes without a lock. Redis expires keys on its own.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration

	// Now is the clock stamped into ExpiresAt. Defaults to time.Now.
	Now func() time.Time
}

// NewRedisStore creates a store over client. Empty prefix and zero ttl select
// the defaults.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Issue(ctx context.Context, key string) (domain.Challenge, error) {
	c, err := newChallenge(key, s.now(), s.ttl)
	if err != nil {
		return domain.Challenge{}, err
	}

	if err := s.redis.Set(ctx, s.key(key), encodeChallenge(c), s.ttl).Err(); err != nil {
		return domain.Challenge{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return c, nil
}

func (s *RedisStore) Take(ctx context.Context, key string) (domain.Challenge, bool, error) {
	raw, err := s.redis.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, false, nil
	}
	if err != nil {
		return domain.Challenge{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	c, err := decodeChallenge(key, raw)
	if err != nil {
		return domain.Challenge{}, false, err
	}
	if c.Expired(s.now()) {
		return domain.Challenge{}, false, nil
	}
	return c, true, nil
}

// Record layout: expires_at unix millis (8 bytes, big endian) || value.
func encodeChallenge(c domain.Challenge) []byte {
	out := make([]byte, 8, 8+len(c.Value))
	binary.BigEndian.PutUint64(out, uint64(c.ExpiresAt.UnixMilli())) // #nosec G115 - post-epoch timestamps
	return append(out, c.Value...)
}

func decodeChallenge(key string, raw []byte) (domain.Challenge, error) {
	if len(raw) <= 8 {
		return domain.Challenge{}, fmt.Errorf("challenge: corrupt record for %q", key)
	}
	ms := int64(binary.BigEndian.Uint64(raw[:8])) // #nosec G115 - written by encodeChallenge
	return domain.Challenge{
		Key:       key,
		Value:     append([]byte(nil), raw[8:]...),
		ExpiresAt: time.UnixMilli(ms),
	}, nil
}
