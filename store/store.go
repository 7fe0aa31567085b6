package store

import (
	"context"
	"time"
)

// WindowState is the fixed-window bookkeeping kept per client key.
type WindowState struct {
	WindowStart time.Time `json:"window_start"`
	Count       uint32    `json:"count"`
}

// UpdateFunc receives the stored state for a key (nil when absent) and
// returns the state to persist. Returning nil leaves the entry untouched.
//
// Backends with optimistic concurrency may call it more than once per
// Update; only the last call's result is committed.
type UpdateFunc func(prev *WindowState) (next *WindowState)

type Store interface {
	// Update runs fn as a single atomic read-modify-write on key.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Get returns a copy of the stored state, or nil when absent.
	Get(ctx context.Context, key string) (*WindowState, error)
}
