package limiter

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the interface that all rate limiters must implement
// Allows swapping between in-memory and Redis implementations
type Limiter interface {
	// Allow checks if a request from the given client should be allowed
	// Returns true if allowed, false if rate limited
	Allow(ip string) bool

	// Close cleans up any resources (Redis connections, goroutines, etc.)
	Close() error
}

const (
	idleTimeout     = 5 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// clientBucket is the token bucket of one client plus the last time it was used
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per client
// This is an in-memory implementation suitable for single-server deployments
//
// Each bucket refills at requestsPerSecond and holds up to one second of
// requests (at least one), so a client may burst briefly and is then held
// to the average rate
type MemoryLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*clientBucket
	rate        rate.Limit
	burst       int
	lastCleanup time.Time
}

// NewMemoryLimiter creates a new in-memory rate limiter
//
// Parameters:
//   - requestsPerSecond: allowed requests per second per client (can be fractional, e.g., 0.2)
//
// Returns:
//   - *MemoryLimiter: new in-memory rate limiter instance
func NewMemoryLimiter(requestsPerSecond float64) *MemoryLimiter {
	burst := int(math.Ceil(requestsPerSecond))
	if burst < 1 {
		burst = 1
	}
	return &MemoryLimiter{
		buckets:     make(map[string]*clientBucket),
		rate:        rate.Limit(requestsPerSecond),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// Allow checks if a request from the given client should be allowed
func (rl *MemoryLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	rl.maybeCleanup(now)
	rl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// maybeCleanup drops buckets idle for longer than idleTimeout
// Must be called with rl.mu held
func (rl *MemoryLimiter) maybeCleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idleTimeout {
			delete(rl.buckets, ip)
		}
	}
	rl.lastCleanup = now
}

// size returns the number of tracked clients
func (rl *MemoryLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Close implements Limiter; there is nothing to release in memory
func (rl *MemoryLimiter) Close() error {
	return nil
}
