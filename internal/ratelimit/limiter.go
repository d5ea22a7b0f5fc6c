package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	apierrors "github.com/eternisai/content-planner-proxy/internal/errors"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client. Authenticated clients are keyed by user ID,
// anonymous ones by IP address.
type Limiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	logger *logger.Logger
}

// New creates a limiter allowing rps requests per second with the given burst per client.
func New(rps float64, burst int, log *logger.Logger) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*client),
		logger:  log.WithComponent("ratelimit"),
	}
}

// Reserve takes a token for key. It returns false and the wait until the next token when
// the bucket is empty.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	if c.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := c.limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return false, time.Second
	}
	return false, r.DelayFrom(now)
}

// Cleanup forgets clients idle for longer than maxIdle and returns how many were removed.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}

	return removed
}

// Size returns the number of tracked clients.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects requests over the client's rate with 429.
// Mount it after the auth middleware so authenticated users are keyed by user ID.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := logger.UserIDFromContext(c.Request.Context()); userID != "" {
			key = "user:" + userID
		}

		allowed, retryAfter := l.Reserve(key)
		if !allowed {
			l.logger.WithContext(c.Request.Context()).Warn("rate limit exceeded",
				slog.String("client", key),
				slog.Duration("retry_after", retryAfter))
			apierrors.AbortWithRateLimit(c, apierrors.ClientRateLimited(retryAfter))
			return
		}

		c.Next()
	}
}
