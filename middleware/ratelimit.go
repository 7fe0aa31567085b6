// Package middleware attaches a rate limiter to net/http handlers.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codetesla51/gatekeep/algorithms"
	"github.com/codetesla51/gatekeep/config"
	"github.com/codetesla51/gatekeep/headers"
	"github.com/codetesla51/gatekeep/metrics"
)

const rateLimitExceededMessage = "rate limit exceeded, try again after %s"

// Responder writes the response for a rejected request. Rate-limit headers
// are already set on w when it is called.
type Responder interface {
	Reject(w http.ResponseWriter, r *http.Request, rejection algorithms.Rejected)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(w http.ResponseWriter, r *http.Request, rejection algorithms.Rejected)

func (f ResponderFunc) Reject(w http.ResponseWriter, r *http.Request, rejection algorithms.Rejected) {
	f(w, r, rejection)
}

// TooManyRequests answers 429 with a plain-text message.
var TooManyRequests = ResponderFunc(func(w http.ResponseWriter, r *http.Request, rejection algorithms.Rejected) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprintf(w, rateLimitExceededMessage, rejection.RateLimitInfo().RetryAfter)
})

type settings struct {
	keys      KeyExtractor
	responder Responder
	logger    *zap.Logger
	metrics   *metrics.Metrics
	failOpen  bool
}

type Option func(*settings)

// WithKeyExtractor overrides how client keys are derived. By default the
// limiter's configured client-key header is read with HeaderKey.
func WithKeyExtractor(k KeyExtractor) Option {
	return func(c *settings) {
		if k != nil {
			c.keys = k
		}
	}
}

func WithResponder(resp Responder) Option {
	return func(c *settings) {
		if resp != nil {
			c.responder = resp
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *settings) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *settings) {
		c.metrics = m
	}
}

// WithFailOpen admits requests whose check failed instead of answering 500.
func WithFailOpen(enabled bool) Option {
	return func(c *settings) {
		c.failOpen = enabled
	}
}

// RateLimit checks every request against limiter before calling next.
// Admitted requests get rate-limit headers and continue; rejected requests
// get the same headers and are handed to the Responder.
func RateLimit(limiter algorithms.RateLimiter, opts ...Option) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("ratelimit middleware: limiter is required")
	}

	cfg := &settings{
		keys:      HeaderKey{Header: clientKeyHeader(limiter)},
		responder: TooManyRequests,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.keys.ClientKey(r)

			start := time.Now()
			decision, err := limiter.Check(r.Context(), key)
			if err != nil {
				cfg.metrics.ObserveCheck(metrics.OutcomeError, time.Since(start))
				// The client is gone, nobody reads the response.
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				cfg.logger.Error("rate limiter failed", zap.String("client_key", key), zap.Error(err))
				if cfg.failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			outcome := metrics.OutcomeAdmitted
			if !decision.Allowed() {
				outcome = metrics.OutcomeRejected
			}
			cfg.metrics.ObserveCheck(outcome, time.Since(start))

			cfg.applyHeaders(w.Header(), decision, key)

			switch d := decision.(type) {
			case algorithms.Rejected:
				cfg.responder.Reject(w, r, d)
			default:
				next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), decision.RateLimitInfo())))
			}
		})
	}
}

// configured is implemented by limiters that expose their settings, such as
// *algorithms.FixedWindow.
type configured interface {
	Config() config.Limiter
}

func clientKeyHeader(limiter algorithms.RateLimiter) string {
	if c, ok := limiter.(configured); ok {
		if h := c.Config().ClientKeyHeader; h != "" {
			return h
		}
	}
	return config.DefaultClientKeyHeader
}

func (c *settings) applyHeaders(h http.Header, src headers.Source, key string) {
	err := headers.Apply(h, src)
	if err == nil {
		return
	}

	c.logger.Warn("failed to set rate limit headers", zap.String("client_key", key), zap.Error(err))

	var encErr *headers.EncodingError
	for _, e := range unwrapJoined(err) {
		if errors.As(e, &encErr) {
			c.metrics.HeaderEncodingFailed(encErr.Header)
		}
	}
}

func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
