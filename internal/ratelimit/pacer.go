package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ RateLimiter = (*FixedDelayPacer)(nil)

// FixedDelayPacer spaces consecutive calls by a fixed delay. It is the
// single-process fallback when no distributed limiter is configured: the
// first call passes immediately, every later call waits out the remainder
// of the pacing window. One pacer is shared by every concurrent drain
// invocation, so the pacing state is guarded by a mutex and Wait reserves
// its slot before sleeping.
type FixedDelayPacer struct {
	delay time.Duration
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	last time.Time
}

func NewFixedDelayPacer(delay time.Duration) *FixedDelayPacer {
	return newFixedDelayPacer(delay, time.Now, sleepWithContext)
}

func newFixedDelayPacer(
	delay time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) *FixedDelayPacer {
	if delay < 0 {
		delay = 0
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &FixedDelayPacer{
		delay: delay,
		now:   nowFn,
		sleep: sleepFn,
	}
}

func (p *FixedDelayPacer) Allow(ctx context.Context, scope string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.delay {
		return false, nil
	}
	p.last = now
	return true, nil
}

// Wait reserves the next pacing slot under the lock, then sleeps outside
// it. Concurrent callers each get their own slot, so two racers can never
// pass inside the same window.
func (p *FixedDelayPacer) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	now := p.now()
	target := now
	if !p.last.IsZero() && p.last.Add(p.delay).After(now) {
		target = p.last.Add(p.delay)
	}
	p.last = target
	p.mu.Unlock()

	if remaining := target.Sub(now); remaining > 0 {
		return p.sleep(ctx, remaining)
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
