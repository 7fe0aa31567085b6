package middleware

import (
	"context"

	"github.com/codetesla51/gatekeep/headers"
)

type infoKey struct{}

// WithInfo stores the admission info of the current request in ctx.
func WithInfo(ctx context.Context, info headers.Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the admission info set by RateLimit.
func InfoFromContext(ctx context.Context) (headers.Info, bool) {
	info, ok := ctx.Value(infoKey{}).(headers.Info)
	return info, ok
}
