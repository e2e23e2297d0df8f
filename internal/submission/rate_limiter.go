package submission

import (
	"sync"
	"time"
)

// RateLimiter is a per-EFIN token bucket guarding the filing endpoint's
// abuse protection.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    int
	window  time.Duration
	now     func() time.Time
}

type tokenBucket struct {
	tokens   int
	lastFill time.Time
}

// NewRateLimiter returns nil when ratePerWindow is not positive; a nil
// limiter allows everything.
func NewRateLimiter(ratePerWindow int, window time.Duration) *RateLimiter {
	if ratePerWindow <= 0 {
		return nil
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    ratePerWindow,
		window:  window,
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl == nil {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		rl.buckets[key] = &tokenBucket{tokens: rl.rate - 1, lastFill: now}
		return true, 0
	}

	refill := int(float64(now.Sub(bucket.lastFill)) / float64(rl.window) * float64(rl.rate))
	if refill > 0 {
		bucket.tokens = min(rl.rate, bucket.tokens+refill)
		bucket.lastFill = now
	}
	if bucket.tokens > 0 {
		bucket.tokens--
		return true, 0
	}
	return false, rl.window / time.Duration(rl.rate)
}
