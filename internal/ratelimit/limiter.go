package ratelimit

import "context"

// RateLimiter throttles outbound requests per bucket (for example the host an
// offline action is replayed against).
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}

// Unlimited never throttles. It is used when no redis backend is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
