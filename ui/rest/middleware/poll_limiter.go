package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"golang.org/x/time/rate"
)

// PollLimiter bounds how often one instance may be polled for status or QR.
// Limiters idle for longer than idleAfter are dropped on the next sweep.
type PollLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*pollEntry
	every     time.Duration
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type pollEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPollLimiter allows perMinute requests per instance, with bursts of
// the same size.
func NewPollLimiter(perMinute int) *PollLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &PollLimiter{
		limiters:  make(map[string]*pollEntry),
		every:     time.Minute / time.Duration(perMinute),
		burst:     perMinute,
		idleAfter: 10 * time.Minute,
		now:       time.Now,
	}
}

func (p *PollLimiter) reserve(key string) (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.lastSweep) > p.idleAfter {
		for k, e := range p.limiters {
			if now.Sub(e.lastSeen) > p.idleAfter {
				delete(p.limiters, k)
			}
		}
		p.lastSweep = now
	}

	e, ok := p.limiters[key]
	if !ok {
		e = &pollEntry{limiter: rate.NewLimiter(rate.Every(p.every), p.burst)}
		p.limiters[key] = e
	}
	e.lastSeen = now
	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, p.every
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Handler limits per tenant and :id route parameter.
func (p *PollLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ok, wait := p.reserve(TenantID(c) + "/" + c.Params("id"))
		if ok {
			return c.Next()
		}
		c.Set(fiber.HeaderRetryAfter, RetryAfterSeconds(wait.Seconds()))
		return c.Status(fiber.StatusTooManyRequests).JSON(utils.ResponseData{
			Status:  fiber.StatusTooManyRequests,
			Code:    "TOO_MANY_REQUESTS",
			Message: "instance polled too often, slow down",
		})
	}
}
