package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterEntry: tracks a rate limiter and its last use time
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimit: connection attempts per client IP
type IPRateLimit struct {
	limiters map[string]*ipLimiterEntry
	every    time.Duration
	burst    int
	now      func() time.Time
	mu       sync.Mutex
}

// NewIPRateLimit: 10 connections per minute, burst of 5
func NewIPRateLimit() *IPRateLimit {
	return NewIPRateLimitWith(6*time.Second, 5)
}

// NewIPRateLimitWith: one token every `every`, up to burst
func NewIPRateLimitWith(every time.Duration, burst int) *IPRateLimit {
	return &IPRateLimit{
		limiters: make(map[string]*ipLimiterEntry),
		every:    every,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow: checks if an IP may open another connection
func (iprl *IPRateLimit) Allow(ip string) bool {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	now := iprl.now()
	entry, exists := iprl.limiters[ip]
	if !exists {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Every(iprl.every), iprl.burst)}
		iprl.limiters[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

func (iprl *IPRateLimit) Count() int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()
	return len(iprl.limiters)
}

// Cleanup: removes limiters unused for longer than ttl
func (iprl *IPRateLimit) Cleanup(ttl time.Duration) int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	now := iprl.now()
	removed := 0
	for ip, entry := range iprl.limiters {
		if now.Sub(entry.lastSeen) > ttl {
			delete(iprl.limiters, ip)
			removed++
		}
	}
	return removed
}
