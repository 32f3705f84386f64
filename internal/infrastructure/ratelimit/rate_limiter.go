package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int           // tokens added per refill interval
	refillTime time.Duration // refill interval
	lastRefill time.Time
	mutex      sync.Mutex
}

// Limit describes the bucket created for one action.
type Limit struct {
	MaxTokens  int
	RefillRate int
	RefillTime time.Duration
}

// DefaultLimits apply per client and action on the presentation facade.
var DefaultLimits = map[string]Limit{
	"send_message": {MaxTokens: 10, RefillRate: 1, RefillTime: 6 * time.Second},
	"refresh":      {MaxTokens: 5, RefillRate: 1, RefillTime: 2 * time.Second},
}

var fallbackLimit = Limit{MaxTokens: 20, RefillRate: 1, RefillTime: 3 * time.Second}

// RateLimiter manages rate limiting for different clients and actions
type RateLimiter struct {
	buckets map[string]*TokenBucket
	limits  map[string]Limit
	clock   clock.Clock
	mutex   sync.RWMutex
}

func NewRateLimiter(clk clock.Clock, limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		limits:  limits,
		clock:   clk,
	}
}

func newTokenBucket(l Limit, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     l.MaxTokens,
		maxTokens:  l.MaxTokens,
		refillRate: l.RefillRate,
		refillTime: l.RefillTime,
		lastRefill: now,
	}
}

// allow consumes a token if one is available, otherwise reports the wait
// until the next refill.
func (tb *TokenBucket) allow(now time.Time) (bool, time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	elapsed := now.Sub(tb.lastRefill)
	if refills := int(elapsed / tb.refillTime); refills > 0 {
		tb.tokens += refills * tb.refillRate
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = tb.lastRefill.Add(time.Duration(refills) * tb.refillTime)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}
	return false, tb.lastRefill.Add(tb.refillTime).Sub(now)
}

// Allow checks if a client action is allowed
func (rl *RateLimiter) Allow(clientID, action string) (bool, time.Duration) {
	key := clientID + ":" + action
	now := rl.clock.Now()

	rl.mutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		if bucket, exists = rl.buckets[key]; !exists {
			limit, ok := rl.limits[action]
			if !ok {
				limit = fallbackLimit
			}
			bucket = newTokenBucket(limit, now)
			rl.buckets[key] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.allow(now)
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	now := rl.clock.Now()
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		idle := now.Sub(bucket.lastRefill) > maxIdle
		bucket.mutex.Unlock()
		if idle {
			delete(rl.buckets, key)
		}
	}
}
