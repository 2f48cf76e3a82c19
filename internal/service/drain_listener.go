package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/claimdesk/notify-engine/internal/queue"
)

// DrainListener consumes drain signals and triggers a drain run per
// signal. It coexists safely with the Scheduler because all claiming is
// store-guarded.
type DrainListener struct {
	drainer  Drainer
	consumer queue.Consumer
	logger   *zap.Logger
	limit    int
}

func NewDrainListener(drainer Drainer, consumer queue.Consumer, limit int, logger *zap.Logger) (*DrainListener, error) {
	if drainer == nil {
		return nil, fmt.Errorf("drainer is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit < 1 {
		limit = defaultDrainBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DrainListener{
		drainer:  drainer,
		consumer: consumer,
		logger:   logger,
		limit:    limit,
	}, nil
}

// Start blocks consuming drain signals until context cancellation.
func (l *DrainListener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return l.consumer.Consume(ctx, queue.DrainQueueName(), l.handleSignal)
}

func (l *DrainListener) handleSignal(ctx context.Context, msg queue.DrainSignal) error {
	result, err := l.drainer.Drain(ctx, l.limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error("signal-triggered drain failed",
			zap.String("eventCode", msg.EventCode),
			zap.Error(err),
		)
		return err
	}

	l.logger.Info("signal-triggered drain completed",
		zap.String("eventCode", msg.EventCode),
		zap.Int("jobsCreated", msg.JobsCreated),
		zap.Int("claimed", result.Claimed),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return nil
}
