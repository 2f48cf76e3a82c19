package ratelimit

import "context"

// RateLimiter throttles outbound deliveries per scope (the SMTP endpoint
// host in practice).
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
