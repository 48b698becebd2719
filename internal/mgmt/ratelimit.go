package mgmt

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

const (
	limiterPruneEvery = 5 * time.Minute
	limiterStaleAfter = 10 * time.Minute
)

// limiter meters management API callers. Each caller draws from its own
// token level that refills continuously at the configured rate; callers
// that go quiet are pruned inline on the next request, so no background
// goroutine outlives the server.
type limiter struct {
	mu        sync.Mutex
	rps       float64
	burst     float64
	callers   map[string]*callerState
	lastPrune time.Time
}

type callerState struct {
	level float64
	seen  time.Time
}

func newLimiter(cfg RateLimitConfig, now time.Time) *limiter {
	return &limiter{
		rps:       float64(cfg.RPS),
		burst:     float64(cfg.Burst),
		callers:   make(map[string]*callerState),
		lastPrune: now,
	}
}

// take spends one token for the caller, refilling by elapsed time first.
// A fresh caller starts with a full burst.
func (l *limiter) take(caller string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= limiterPruneEvery {
		for k, st := range l.callers {
			if now.Sub(st.seen) >= limiterStaleAfter {
				delete(l.callers, k)
			}
		}
		l.lastPrune = now
	}

	st, ok := l.callers[caller]
	if !ok {
		st = &callerState{level: l.burst}
		l.callers[caller] = st
	} else {
		st.level += now.Sub(st.seen).Seconds() * l.rps
		if st.level > l.burst {
			st.level = l.burst
		}
	}
	st.seen = now

	if st.level < 1 {
		return false
	}
	st.level--
	return true
}

// NewRateLimitMiddleware meters API callers by client IP. Probe endpoints
// bypass the limiter so orchestration checks never starve behind a noisy
// operator console.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	l := newLimiter(cfg, time.Now())

	return func(c *fiber.Ctx) error {
		if isProbePath(c.Path()) {
			return c.Next()
		}
		if !l.take(c.IP(), time.Now()) {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
