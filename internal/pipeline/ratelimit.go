package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimit is either unlimited or a positive number of calls per trailing minute.
// The zero value is NoRateLimit.
type RateLimit struct {
	perMinute int
	enabled   bool
}

// NoRateLimit disables admission control.
func NoRateLimit() RateLimit {
	return RateLimit{}
}

// PerMinute admits at most n calls in any trailing 60s window. n must be positive;
// PerMinute(0) fails validation rather than meaning "unlimited".
func PerMinute(n int) RateLimit {
	return RateLimit{perMinute: n, enabled: true}
}

// Enabled reports whether the limit is active.
func (r RateLimit) Enabled() bool { return r.enabled }

// PerMinute returns the configured calls per window, or 0 when disabled.
func (r RateLimit) PerMinute() int { return r.perMinute }

func (r RateLimit) validate() error {
	if r.enabled && r.perMinute <= 0 {
		return configError("rateLimitPerMinute must be > 0 when set, got %d", r.perMinute)
	}
	return nil
}

const (
	defaultWindow       = time.Minute
	defaultSafetyMargin = 500 * time.Millisecond
)

// RateLimiter is a sliding-window admission gate shared by every worker of a run, and
// usually by every run in the process.
type RateLimiter struct {
	limit  RateLimit
	window time.Duration
	margin time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	calls []time.Time
}

// RateLimiterOption customises a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithWindow overrides the 60s window. Intended for tests.
func WithWindow(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithSafetyMargin sets the extra wait added after the oldest call leaves the window.
func WithSafetyMargin(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d >= 0 {
			r.margin = d
		}
	}
}

// WithLimiterLogger sets the logger used for wait notices.
func WithLimiterLogger(l *slog.Logger) RateLimiterOption {
	return func(r *RateLimiter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRateLimiter validates limit and builds a limiter.
func NewRateLimiter(limit RateLimit, opts ...RateLimiterOption) (*RateLimiter, error) {
	if err := limit.validate(); err != nil {
		return nil, err
	}
	r := &RateLimiter{
		limit:  limit,
		window: defaultWindow,
		margin: defaultSafetyMargin,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if limit.enabled {
		r.calls = make([]time.Time, 0, limit.perMinute)
	}
	return r, nil
}

// Limit returns the configured limit.
func (r *RateLimiter) Limit() RateLimit {
	return r.limit
}

// Admit blocks until a call is permitted and records it. The timestamp is recorded only
// once capacity exists, never reserved ahead of a wait. A canceled context returns
// ctx.Err() without touching the history.
func (r *RateLimiter) Admit(ctx context.Context) error {
	if !r.limit.enabled {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := r.tryRecord(time.Now())
		if ok {
			return nil
		}
		r.logger.Warn("Rate limit reached, waiting for window capacity.", "wait", wait.String(), "limitPerMinute", r.limit.perMinute)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryRecord prunes expired entries and records now if capacity exists. Otherwise it
// returns how long to wait before checking again.
func (r *RateLimiter) tryRecord(now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	keep := 0
	for keep < len(r.calls) && !r.calls[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		r.calls = append(r.calls[:0], r.calls[keep:]...)
	}

	if len(r.calls) < r.limit.perMinute {
		r.calls = append(r.calls, now)
		return 0, true
	}
	wait := r.window - now.Sub(r.calls[0]) + r.margin
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow returns the number of admissions inside the trailing window.
func (r *RateLimiter) InWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.window)
	n := 0
	for _, t := range r.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
