package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryAfterFormat selects how the Retry-After header value is rendered.
type RetryAfterFormat int

const (
	// HTTPDate renders Retry-After as an RFC 7231 HTTP-date.
	HTTPDate RetryAfterFormat = iota
	// Seconds renders Retry-After as a decimal number of seconds.
	Seconds
)

func (f RetryAfterFormat) String() string {
	switch f {
	case HTTPDate:
		return "http-date"
	case Seconds:
		return "seconds"
	default:
		return fmt.Sprintf("RetryAfterFormat(%d)", int(f))
	}
}

func (f RetryAfterFormat) MarshalText() ([]byte, error) {
	switch f {
	case HTTPDate, Seconds:
		return []byte(f.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown retry-after format %d", ErrInvalidConfig, int(f))
	}
}

func (f *RetryAfterFormat) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "http-date", "httpdate", "date":
		*f = HTTPDate
	case "seconds", "secs", "delta":
		*f = Seconds
	default:
		return fmt.Errorf("%w: unknown retry-after format %q", ErrInvalidConfig, string(text))
	}
	return nil
}

// DefaultClientKeyHeader is the header most reverse proxies use to forward the client address.
const DefaultClientKeyHeader = "X-Forwarded-For"

// Limiter configures one fixed-window limiter instance.
type Limiter struct {
	// MaxRequests admitted per window. Zero admits nothing.
	MaxRequests uint32 `env:"MAX_REQUESTS" envDefault:"60"`
	// Window is the wall-clock length of a window.
	Window           time.Duration    `env:"WINDOW" envDefault:"60s"`
	RetryAfterFormat RetryAfterFormat `env:"RETRY_AFTER_FORMAT" envDefault:"http-date"`
	// ClientKeyHeader names the request header the client key is extracted from.
	ClientKeyHeader string `env:"CLIENT_KEY_HEADER" envDefault:"X-Forwarded-For"`
}

// Default returns 60 requests per 60 seconds, HTTP-date Retry-After, keyed on X-Forwarded-For.
func Default() Limiter {
	return Limiter{
		MaxRequests:      60,
		Window:           time.Minute,
		RetryAfterFormat: HTTPDate,
		ClientKeyHeader:  DefaultClientKeyHeader,
	}
}

// PerMinute returns the default config with limit requests per minute.
func PerMinute(limit uint32) Limiter {
	cfg := Default()
	cfg.MaxRequests = limit
	cfg.Window = time.Minute
	return cfg
}

// maxWindowSeconds is the longest window a time.Duration can hold.
const maxWindowSeconds = uint64(math.MaxInt64 / int64(time.Second))

// PerWindow returns the default config with limit requests per window of
// windowSeconds. Windows too long for a time.Duration are clamped.
func PerWindow(limit uint32, windowSeconds uint64) Limiter {
	cfg := Default()
	cfg.MaxRequests = limit
	cfg.Window = time.Duration(min(windowSeconds, maxWindowSeconds)) * time.Second
	return cfg
}

// Validate reports configuration that cannot drive a limiter.
func (l Limiter) Validate() error {
	if l.Window <= 0 {
		return fmt.Errorf("%w: window must be greater than 0, got %s", ErrInvalidConfig, l.Window)
	}
	if _, err := l.RetryAfterFormat.MarshalText(); err != nil {
		return err
	}
	if strings.TrimSpace(l.ClientKeyHeader) == "" {
		return fmt.Errorf("%w: client key header is required", ErrInvalidConfig)
	}
	return nil
}
