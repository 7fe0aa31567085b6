package algorithms

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codetesla51/gatekeep/config"
	"github.com/codetesla51/gatekeep/headers"
	"github.com/codetesla51/gatekeep/store"
)

// FixedWindow admits up to MaxRequests per key in windows anchored at the
// first request of each window. A window opened after expiry starts at the
// arrival time of the request that opened it, not at a clock boundary.
type FixedWindow struct {
	cfg    config.Limiter
	store  store.Store
	clock  func() time.Time
	logger *zap.Logger
}

var _ RateLimiter = (*FixedWindow)(nil)

type Option func(*FixedWindow)

// WithClock replaces time.Now, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(fw *FixedWindow) {
		if clock != nil {
			fw.clock = clock
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(fw *FixedWindow) {
		if logger != nil {
			fw.logger = logger
		}
	}
}

func NewFixedWindow(cfg config.Limiter, s store.Store, opts ...Option) *FixedWindow {
	if cfg.Window <= 0 {
		panic("window must be greater than 0")
	}
	if s == nil {
		panic("store is required")
	}
	fw := &FixedWindow{
		cfg:    cfg,
		store:  s,
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fw)
	}
	return fw
}

func (fw *FixedWindow) Limit() uint32          { return fw.cfg.MaxRequests }
func (fw *FixedWindow) Window() time.Duration  { return fw.cfg.Window }
func (fw *FixedWindow) Config() config.Limiter { return fw.cfg }

func (fw *FixedWindow) Check(ctx context.Context, key string) (Decision, error) {
	var d Decision
	err := fw.store.Update(ctx, key, func(prev *store.WindowState) *store.WindowState {
		var next *store.WindowState
		next, d = fw.decide(prev, fw.clock())
		return next
	})
	if err != nil {
		fw.logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}

	if r, ok := d.(Rejected); ok {
		fw.logger.Debug("request rejected",
			zap.String("key", key),
			zap.Duration("retry_after", r.RetryAfter))
	}
	return d, nil
}

// decide applies the fixed-window rules to the stored state at now and
// returns the state to persist (nil for none) along with the decision.
func (fw *FixedWindow) decide(prev *store.WindowState, now time.Time) (*store.WindowState, Decision) {
	limit := fw.cfg.MaxRequests
	window := fw.cfg.Window

	if limit == 0 {
		return nil, fw.reject(now, window)
	}

	// First request, or the previous window has expired
	if prev == nil || now.Sub(prev.WindowStart) > window {
		return &store.WindowState{WindowStart: now, Count: 1}, fw.admit(limit-1, now, now)
	}

	// Shared stores can see a start slightly ahead of this process's clock.
	elapsed := max(now.Sub(prev.WindowStart), 0)
	if prev.Count >= limit {
		return nil, fw.reject(now, window-elapsed)
	}

	next := &store.WindowState{WindowStart: prev.WindowStart, Count: prev.Count + 1}
	return next, fw.admit(limit-next.Count, prev.WindowStart, now)
}

func (fw *FixedWindow) admit(remaining uint32, windowStart, now time.Time) Admitted {
	resetAt := windowStart.Add(fw.cfg.Window)
	return Admitted{
		Remaining:  remaining,
		Limit:      fw.cfg.MaxRequests,
		ResetAt:    resetAt,
		RetryAfter: headers.FormatRetryAfter(fw.cfg.RetryAfterFormat, resetAt, resetAt.Sub(now)),
		Format:     fw.cfg.RetryAfterFormat,
	}
}

func (fw *FixedWindow) reject(now time.Time, retryAfter time.Duration) Rejected {
	return Rejected{
		RetryAfter: retryAfter,
		Limit:      fw.cfg.MaxRequests,
		ResetAt:    now.Add(retryAfter),
		Format:     fw.cfg.RetryAfterFormat,
	}
}
