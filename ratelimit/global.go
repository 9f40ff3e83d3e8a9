package ratelimit

import (
	"context"
	"sync"
	"time"

	rate "github.com/beefsack/go-rate"
)

// GlobalRateLimiter is the process-wide admission gate layered in front
// of every BucketRateLimiter. Both variants share the same interface so
// the HTTPEngine does not need to know which one it was configured with.
type GlobalRateLimiter interface {
	Acquire(ctx context.Context) error
	Update(headers map[string][]string)
	OnGlobal429(retryAfter time.Duration)
}

// LimitedGlobalRateLimiter wraps a fixed N-per-second counter, the shape
// Discord documents for bot tokens without an elevated global limit.
type LimitedGlobalRateLimiter struct {
	limiter *rate.RateLimiter

	mu       sync.Mutex
	frozen   bool
	thawTime time.Time
}

// NewLimitedGlobalRateLimiter admits at most n requests per second.
func NewLimitedGlobalRateLimiter(n int) *LimitedGlobalRateLimiter {
	return &LimitedGlobalRateLimiter{
		limiter: rate.New(n, time.Second),
	}
}

// Acquire blocks until both the freeze (if any) has lifted and the
// underlying per-second counter has a free slot.
func (g *LimitedGlobalRateLimiter) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		frozen, thaw := g.frozen, g.thawTime
		g.mu.Unlock()

		if frozen && time.Now().Before(thaw) {
			if err := sleepUntil(ctx, thaw); err != nil {
				return err
			}
			continue
		}

		if ok, remaining := g.limiter.Try(); ok {
			return nil
		} else if remaining > 0 {
			if err := sleepUntil(ctx, time.Now().Add(remaining)); err != nil {
				return err
			}
		}
	}
}

// Update is a no-op: the limited variant has nothing to learn from a
// successful response, it only reacts to explicit global 429s.
func (g *LimitedGlobalRateLimiter) Update(headers map[string][]string) {}

// OnGlobal429 freezes every future Acquire call for retryAfter. Callers
// already holding a slot are not interrupted.
func (g *LimitedGlobalRateLimiter) OnGlobal429(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	thaw := time.Now().Add(retryAfter)
	if !g.frozen || thaw.After(g.thawTime) {
		g.frozen = true
		g.thawTime = thaw
	}
}

func sleepUntil(ctx context.Context, when time.Time) error {
	d := time.Until(when)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnlimitedGlobalRateLimiter admits immediately; for bots with a
// negotiated higher global limit managed elsewhere, it exists purely so
// they pay no scheduling cost on the hot path.
type UnlimitedGlobalRateLimiter struct {
	mu       sync.Mutex
	frozen   bool
	thawTime time.Time
}

func NewUnlimitedGlobalRateLimiter() *UnlimitedGlobalRateLimiter {
	return &UnlimitedGlobalRateLimiter{}
}

func (g *UnlimitedGlobalRateLimiter) Acquire(ctx context.Context) error {
	g.mu.Lock()
	frozen, thaw := g.frozen, g.thawTime
	g.mu.Unlock()
	if frozen {
		return sleepUntil(ctx, thaw)
	}
	return nil
}

func (g *UnlimitedGlobalRateLimiter) Update(headers map[string][]string) {}

func (g *UnlimitedGlobalRateLimiter) OnGlobal429(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	thaw := time.Now().Add(retryAfter)
	if !g.frozen || thaw.After(g.thawTime) {
		g.frozen = true
		g.thawTime = thaw
	}
}
