package algorithms

import "context"

// RateLimiter decides whether the request identified by key is admitted.
// It returns an error only when ctx is done or the store fails.
type RateLimiter interface {
	Check(ctx context.Context, key string) (Decision, error)
}
