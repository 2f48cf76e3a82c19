package ratelimit

import "context"

var _ RateLimiter = (*Chain)(nil)

// Chain combines several limiters into one: a delivery proceeds only once
// every member has admitted it. Nil members are skipped.
type Chain struct {
	limiters []RateLimiter
}

func NewChain(limiters ...RateLimiter) *Chain {
	members := make([]RateLimiter, 0, len(limiters))
	for _, l := range limiters {
		if l != nil {
			members = append(members, l)
		}
	}
	return &Chain{limiters: members}
}

func (c *Chain) Allow(ctx context.Context, scope string) (bool, error) {
	for _, l := range c.limiters {
		ok, err := l.Allow(ctx, scope)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Chain) Wait(ctx context.Context, scope string) error {
	for _, l := range c.limiters {
		if err := l.Wait(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}
