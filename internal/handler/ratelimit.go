package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-IP token-bucket rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter. rps is the steady-state requests per
// second; burst is the maximum burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Run drops limiters idle for longer than ten minutes, every five minutes,
// until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(limiterIdleTTL)
		case <-ctx.Done():
			return
		}
	}
}

func (l *RateLimiter) sweep(idle time.Duration) {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, il := range l.limiters {
		if il.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	il, ok := l.limiters[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = il
	}
	il.lastSeen = l.now()
	l.mu.Unlock()
	return il.limiter.Allow()
}

// Middleware returns the Gin middleware.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(autherr.ErrRateLimited.Status, autherr.ErrRateLimited)
			return
		}
		c.Next()
	}
}
