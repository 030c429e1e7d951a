package ratex_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/ratex"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := ratex.New(ratex.Config{Requests: 3, Window: time.Minute, Burst: 3})
	now, clock := fixedClock(time.Unix(1_700_000_000, 0))
	l.Now = clock

	for i := range 3 {
		ok, _ := l.Allow("alice@example.com")
		require.True(t, ok, "attempt %d should pass", i+1)
	}

	ok, retry := l.Allow("alice@example.com")
	require.False(t, ok)
	require.GreaterOrEqual(t, retry, time.Second)

	// Other keys are independent.
	ok, _ = l.Allow("bob@example.com")
	require.True(t, ok)

	// One token refills every 20s.
	*now = now.Add(21 * time.Second)
	ok, _ = l.Allow("alice@example.com")
	require.True(t, ok)
}

func TestLimiter_Reset(t *testing.T) {
	l := ratex.New(ratex.Config{Requests: 1, Window: time.Hour, Burst: 1})

	ok, _ := l.Allow("k")
	require.True(t, ok)
	ok, _ = l.Allow("k")
	require.False(t, ok)

	l.Reset("k")
	ok, _ = l.Allow("k")
	require.True(t, ok)
}

func TestLimiter_ZeroConfigAllowsAll(t *testing.T) {
	l := ratex.New(ratex.Config{})
	for range 100 {
		ok, _ := l.Allow("k")
		require.True(t, ok)
	}
}

func TestLimiter_CleanupForgetsIdleKeys(t *testing.T) {
	l := ratex.New(ratex.Config{Requests: 5, Window: time.Minute, Burst: 5})
	now, clock := fixedClock(time.Now())
	l.Now = clock

	for i := range 10 {
		l.Allow(fmt.Sprintf("key-%d", i))
	}
	require.Equal(t, 10, l.Len())

	*now = now.Add(10 * time.Minute)
	l.Allow("fresh")
	require.Equal(t, 1, l.Len())
}

func TestLimiter_Concurrent(t *testing.T) {
	l := ratex.New(ratex.Config{Requests: 10, Window: time.Hour, Burst: 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, allowed)
}
