package algorithms

import (
	"time"

	"github.com/codetesla51/gatekeep/config"
	"github.com/codetesla51/gatekeep/headers"
)

// Decision is either Admitted or Rejected.
type Decision interface {
	Allowed() bool
	RateLimitInfo() headers.Info
	decision()
}

// Admitted is returned when the request fits into the current window.
type Admitted struct {
	Remaining uint32
	Limit     uint32
	// ResetAt is when the current window expires.
	ResetAt time.Time
	// RetryAfter is the Retry-After value rendered at decision time.
	RetryAfter string
	Format     config.RetryAfterFormat
}

func (Admitted) Allowed() bool { return true }
func (Admitted) decision()     {}

func (a Admitted) RateLimitInfo() headers.Info {
	return headers.Info{
		RetryAfter: a.RetryAfter,
		Limit:      a.Limit,
		Remaining:  a.Remaining,
		ResetAt:    a.ResetAt,
		Format:     a.Format,
	}
}

// Rejected is returned when the window quota is exhausted.
type Rejected struct {
	// RetryAfter is the time left until the window expires.
	RetryAfter time.Duration
	Limit      uint32
	ResetAt    time.Time
	Format     config.RetryAfterFormat
}

func (Rejected) Allowed() bool { return false }
func (Rejected) decision()     {}

// RateLimitInfo renders the rejection; Remaining is always 0.
func (r Rejected) RateLimitInfo() headers.Info {
	return headers.Info{
		RetryAfter: headers.FormatRetryAfter(r.Format, r.ResetAt, r.RetryAfter),
		Limit:      r.Limit,
		Remaining:  0,
		ResetAt:    r.ResetAt,
		Format:     r.Format,
	}
}
