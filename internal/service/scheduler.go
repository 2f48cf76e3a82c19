package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultDrainInterval = 60 * time.Second

// Drainer runs one claim-then-deliver cycle.
type Drainer interface {
	Drain(ctx context.Context, limit int) (*DrainResult, error)
}

// Scheduler invokes Drain on a fixed interval so queued and retry-eligible
// jobs get delivered even when no drain signal arrives.
type Scheduler struct {
	drainer  Drainer
	logger   *zap.Logger
	interval time.Duration
	limit    int
}

func NewScheduler(drainer Drainer, interval time.Duration, limit int, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	if limit < 1 {
		limit = defaultDrainBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		drainer:  drainer,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.runDrain(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runDrain(ctx)
		}
	}
}

func (s *Scheduler) runDrain(ctx context.Context) {
	result, err := s.drainer.Drain(ctx, s.limit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled drain failed", zap.Error(err))
		return
	}

	if result.Claimed > 0 {
		s.logger.Info("scheduled drain completed",
			zap.Int("claimed", result.Claimed),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
		)
	}
}
