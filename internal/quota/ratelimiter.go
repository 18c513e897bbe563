// Package quota provides per-user request rate limiting.
package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/atelierhq/atelier/internal/metrics"
)

// RateLimiter implements per-subject token bucket rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	rpm      int
	limiters map[string]*subjectLimiter
}

type subjectLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing rpm requests per minute
// per subject, with a burst of rpm. rpm=0 disables limiting.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:      rpm,
		limiters: make(map[string]*subjectLimiter),
	}
}

// Allow reports whether a request from the given subject should proceed.
func (rl *RateLimiter) Allow(subject string) bool {
	if rl.rpm == 0 {
		return true // Unlimited
	}

	rl.mu.Lock()
	entry, ok := rl.limiters[subject]
	if !ok {
		entry = &subjectLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.rpm),
		}
		rl.limiters[subject] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	if !entry.limiter.Allow() {
		metrics.RecordRateLimitHit()
		return false
	}
	return true
}

// RetryAfter returns the number of seconds until the subject's next token
// is available.
func (rl *RateLimiter) RetryAfter(subject string) int {
	if rl.rpm == 0 {
		return 0
	}

	rl.mu.Lock()
	entry, ok := rl.limiters[subject]
	rl.mu.Unlock()
	if !ok {
		return 0
	}

	res := entry.limiter.Reserve()
	delay := res.Delay()
	res.Cancel()
	if delay <= 0 {
		return 0
	}
	return int(delay.Seconds()) + 1
}

// Cleanup removes limiters for subjects that haven't been seen recently.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for subject, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, subject)
		}
	}
}
