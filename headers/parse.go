package headers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codetesla51/gatekeep/config"
)

// Parsed is what a client can recover from rate-limit headers.
type Parsed struct {
	Info
	// RetryAt is the absolute retry time. For the Seconds format it is
	// computed relative to the now argument of Parse.
	RetryAt time.Time
	// Wait is the delay until RetryAt as seen from now.
	Wait time.Duration
}

// Parse decodes the four rate-limit headers. The Retry-After format is
// detected from the value itself.
func Parse(h http.Header, now time.Time) (Parsed, error) {
	var p Parsed

	limit, err := parseUint32(h, Limit)
	if err != nil {
		return Parsed{}, err
	}
	remaining, err := parseUint32(h, Remaining)
	if err != nil {
		return Parsed{}, err
	}

	rawReset := strings.TrimSpace(h.Get(Reset))
	reset, err := strconv.ParseInt(rawReset, 10, 64)
	if err != nil {
		return Parsed{}, fmt.Errorf("parse %s %q: %w", Reset, rawReset, err)
	}

	rawRetry := strings.TrimSpace(h.Get(RetryAfter))
	if rawRetry == "" {
		return Parsed{}, fmt.Errorf("parse %s: missing", RetryAfter)
	}
	if secs, err := strconv.ParseInt(rawRetry, 10, 64); err == nil {
		p.Format = config.Seconds
		p.Wait = time.Duration(secs) * time.Second
		p.RetryAt = now.Add(p.Wait)
	} else {
		at, err := http.ParseTime(rawRetry)
		if err != nil {
			return Parsed{}, fmt.Errorf("parse %s %q: %w", RetryAfter, rawRetry, err)
		}
		p.Format = config.HTTPDate
		p.RetryAt = at
		p.Wait = at.Sub(now)
	}

	p.RetryAfter = rawRetry
	p.Limit = limit
	p.Remaining = remaining
	p.ResetAt = time.Unix(reset, 0)
	return p, nil
}

func parseUint32(h http.Header, name string) (uint32, error) {
	raw := strings.TrimSpace(h.Get(name))
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return uint32(v), nil
}
