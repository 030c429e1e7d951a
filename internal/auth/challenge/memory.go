package challenge

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
)

// DefaultShards is the shard count used when NewMemoryStore is given zero.
const DefaultShards = 32

// sweepThreshold is the shard size above which Issue drops expired entries.
const sweepThreshold = 1024

// MemoryStore keeps challenges in process memory. Keys are spread over
// independently locked shards: issue/take on the same key serialize on one
// mutex, unrelated keys usually don't contend at all. A restart forgets every
// in-flight ceremony.
type MemoryStore struct {
	shards []*shard
	ttl    time.Duration

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

type shard struct {
	mu sync.Mutex
	m  map[string]domain.Challenge
}

// NewMemoryStore creates a store with n shards and the given challenge TTL.
// Zero values select DefaultShards and DefaultTTL.
func NewMemoryStore(n int, ttl time.Duration) *MemoryStore {
	if n <= 0 {
		n = DefaultShards
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &MemoryStore{shards: make([]*shard, n), ttl: ttl}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[string]domain.Challenge)}
	}
	return s
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))] // #nosec G115 - shard count is small
}

func (s *MemoryStore) Issue(ctx context.Context, key string) (domain.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return domain.Challenge{}, err
	}

	now := s.now()
	c, err := newChallenge(key, now, s.ttl)
	if err != nil {
		return domain.Challenge{}, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if len(sh.m) >= sweepThreshold {
		sh.sweep(now)
	}
	sh.m[key] = c
	return c, nil
}

func (s *MemoryStore) Take(ctx context.Context, key string) (domain.Challenge, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Challenge{}, false, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	c, ok := sh.m[key]
	delete(sh.m, key)
	sh.mu.Unlock()

	if !ok || c.Expired(s.now()) {
		return domain.Challenge{}, false, nil
	}
	return c, true, nil
}

// Sweep drops every expired challenge and returns how many went.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.sweep(now)
		sh.mu.Unlock()
	}
	return n
}

// Len returns the number of stored challenges, expired ones included.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// sweep must be called with sh.mu held.
func (sh *shard) sweep(now time.Time) int {
	n := 0
	for k, c := range sh.m {
		if c.Expired(now) {
			delete(sh.m, k)
			n++
		}
	}
	return n
}
