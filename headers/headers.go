// Package headers renders rate-limit decisions as HTTP response headers and
// parses them back.
//
// Four headers are produced for every decision:
//
//	Retry-After            HTTP-date or delay in seconds, per config.RetryAfterFormat
//	X-RateLimit-Limit      requests admitted per window
//	X-RateLimit-Remaining  requests left in the current window (0 when rejected)
//	X-RateLimit-Reset      Unix timestamp at which the window resets
//
// Rendering validates every value. A value that cannot appear in a header is
// skipped and reported through an *EncodingError; the remaining headers are
// still written so callers can serve a degraded response.
package headers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/codetesla51/gatekeep/config"
)

const (
	RetryAfter = "Retry-After"
	Limit      = "X-RateLimit-Limit"
	Remaining  = "X-RateLimit-Remaining"
	Reset      = "X-RateLimit-Reset"
)

var ErrInvalidHeaderValue = errors.New("invalid header value")

// EncodingError reports a header whose computed value is not a valid field value.
type EncodingError struct {
	Header string
	Value  string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to set rate limit header %s: invalid value %q", e.Header, e.Value)
}

func (e *EncodingError) Unwrap() error {
	return ErrInvalidHeaderValue
}

// Info is the header-ready view of a decision.
type Info struct {
	// RetryAfter is the already rendered Retry-After value.
	RetryAfter string
	Limit      uint32
	Remaining  uint32
	ResetAt    time.Time
	Format     config.RetryAfterFormat
}

// Source is implemented by decisions that can be rendered.
type Source interface {
	RateLimitInfo() Info
}

// FormatRetryAfter renders a Retry-After value. HTTPDate formats resetAt;
// Seconds rounds wait up to whole seconds, never below 1.
func FormatRetryAfter(format config.RetryAfterFormat, resetAt time.Time, wait time.Duration) string {
	if format == config.Seconds {
		return strconv.FormatInt(CeilSeconds(wait), 10)
	}
	return resetAt.UTC().Format(http.TimeFormat)
}

// CeilSeconds rounds d up to whole seconds with a floor of 1.
func CeilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		return 1
	}
	return secs
}

// Render builds a fresh header set from src.
func Render(src Source) (http.Header, error) {
	h := make(http.Header, 4)
	err := Apply(h, src)
	return h, err
}

// Apply writes the rate-limit headers of src into dst, replacing existing
// values. Invalid values are skipped and joined into the returned error.
func Apply(dst http.Header, src Source) error {
	info := src.RateLimitInfo()

	var errs []error
	set := func(name, value string) {
		if !httpguts.ValidHeaderFieldValue(value) {
			errs = append(errs, &EncodingError{Header: name, Value: value})
			return
		}
		dst.Set(name, value)
	}

	set(RetryAfter, info.RetryAfter)
	set(Limit, strconv.FormatUint(uint64(info.Limit), 10))
	set(Remaining, strconv.FormatUint(uint64(info.Remaining), 10))
	set(Reset, strconv.FormatInt(info.ResetAt.Unix(), 10))

	return errors.Join(errs...)
}
