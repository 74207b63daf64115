package util

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter to provide a simpler interface.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a new token bucket limiter.
// r: tokens per second; r <= 0 disables limiting.
// b: burst size.
func NewLimiter(r float64, b int) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(toLimit(r), max(b, 1)),
	}
}

func toLimit(r float64) rate.Limit {
	if r <= 0 || math.IsInf(r, 1) {
		return rate.Inf
	}
	return rate.Limit(r)
}

// Allow reports whether an event with weight n may happen now.
func (l *Limiter) Allow(n int) bool {
	return l.inner.AllowN(time.Now(), n)
}

// AllowAt reports whether an event with weight n may happen at now. It lets
// callers with their own clock drive the bucket.
func (l *Limiter) AllowAt(now time.Time, n int) bool {
	return l.inner.AllowN(now, n)
}

// Wait blocks until n tokens are available.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	return l.inner.WaitN(ctx, n)
}

// SetRate changes the refill rate and burst.
func (l *Limiter) SetRate(now time.Time, r float64, b int) {
	l.inner.SetLimitAt(now, toLimit(r))
	l.inner.SetBurstAt(now, max(b, 1))
}
