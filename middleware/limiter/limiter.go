package limiter

import (
	"fmt"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter paces oracle calls with a token bucket shared by every stage.
type RateLimiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithMaxWait fails a call instead of queueing it longer than d.
func WithMaxWait(d time.Duration) Option {
	return func(l *RateLimiter) { l.maxWait = d }
}

// NewTokenBucket allows perSecond calls on average with the given burst.
func NewTokenBucket(perSecond float64, burst int, opts ...Option) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &RateLimiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute waits for a token, then calls next. Waiting ends early on context
// cancellation or when the queue delay would exceed the configured maximum.
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	r := m.bucket.Reserve()
	if !r.OK() {
		return fmt.Errorf("%s call exceeds limiter burst: %w", ctx.Stage(), ferrors.ErrRateLimited)
	}
	delay := r.Delay()
	if m.maxWait > 0 && delay > m.maxWait {
		r.Cancel()
		return fmt.Errorf("%s call would wait %s for a token: %w", ctx.Stage(), delay.Round(time.Millisecond), ferrors.ErrRateLimited)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Context().Done():
			r.Cancel()
			return fmt.Errorf("%s call cancelled while rate limited: %w", ctx.Stage(), ctx.Context().Err())
		}
	}
	return next(ctx)
}
