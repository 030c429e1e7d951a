package ratex

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting parameters.
type Config struct {
	// Requests is the number of attempts allowed in Window.
	Requests int
	// Window is the time window for rate limiting.
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit.
	Burst int
}

// StrictLimit suits credential endpoints (brute force prevention): 5 per
// minute, all 5 available as a burst.
var StrictLimit = Config{Requests: 5, Window: time.Minute, Burst: 5}

// cleanupEvery bounds how often idle limiters are swept.
const cleanupEvery = 5 * time.Minute

// Limiter is a keyed token-bucket limiter, one bucket per key (an
// identifier, an IP, or a composite). Safe for concurrent use.
type Limiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time

	// Now is the clock used for token accounting. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Limiter from cfg. A zero Requests or Window yields a limiter
// that allows everything.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Requests > 0 && cfg.Window > 0 {
		limit = rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds())
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(cfg.Requests, 1)
	}

	return &Limiter{
		rate:        limit,
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow consumes one token for key. When the bucket is empty it returns false
// and the delay until the next token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	limiter := l.getLimiter(key, now)

	if limiter.AllowN(now, 1) {
		return true, 0
	}

	// Don't actually consume the reservation
	r := limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	return false, max(delay, time.Second)
}

// Reset forgets key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.limiters.Delete(key)
}

// getLimiter retrieves or creates a rate limiter for the given key
func (l *Limiter) getLimiter(key string, now time.Time) *rate.Limiter {
	// Fast path: limiter already exists
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	// Sweep before storing so the new bucket is not swept as idle.
	l.maybeCleanup(now)

	limiter := rate.NewLimiter(l.rate, l.burst)
	actual, _ := l.limiters.LoadOrStore(key, limiter)
	return actual.(*rate.Limiter)
}

// maybeCleanup removes limiters whose buckets have refilled; a full bucket
// means the key has been idle long enough to forget.
func (l *Limiter) maybeCleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) < cleanupEvery {
		return
	}
	l.lastCleanup = now

	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).TokensAt(now) >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// Len reports how many keys currently hold a bucket.
func (l *Limiter) Len() int {
	n := 0
	l.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
