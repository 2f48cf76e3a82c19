package queue

import "context"

// Publisher publishes drain signals to the broker.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DrainSignal) error
	Close() error
}

// SignalHandler handles a consumed drain signal.
type SignalHandler func(ctx context.Context, msg DrainSignal) error

// Consumer consumes drain signals from the broker.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler SignalHandler) error
	Close() error
}

const (
	// drainQueueName is the single work queue carrying drain wake-ups.
	drainQueueName = "notify.drain"
	// drainDLQName receives signals rejected as undecodable.
	drainDLQName = "dlq.notify.drain"
)

// DrainQueueName returns the drain-signal work queue name.
func DrainQueueName() string {
	return drainQueueName
}

// DrainDLQName returns the dead-letter queue name for drain signals.
func DrainDLQName() string {
	return drainDLQName
}
