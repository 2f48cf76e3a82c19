package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerTag = "notify-engine-drain"

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume delivers drain signals to handler until ctx is canceled. Broker
// disconnects are retried with exponential backoff; a handler error nacks
// the signal back onto the queue, an undecodable signal goes to the DLQ.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler SignalHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("signal handler is required")
	}

	backoff := reconnectBackoff
	for ctx.Err() == nil {
		err := c.consumeSession(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("drain signal consumer disconnected",
			zap.Error(err),
			zap.String("queue", queue),
			zap.Duration("retryIn", backoff),
		)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil
}

// consumeSession runs one channel's delivery stream to exhaustion.
func (c *RabbitMQConsumer) consumeSession(ctx context.Context, queue string, handler SignalHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, open := <-deliveries:
			if !open {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.dispatch(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler SignalHandler) error {
	signal, err := decodeSignal(d.Body)
	if err != nil {
		c.logger.Warn("rejecting drain signal",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to dead-letter invalid signal: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, signal); err != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack drain signal: %w", err)
	}
	return nil
}

func decodeSignal(body []byte) (DrainSignal, error) {
	var signal DrainSignal
	if err := json.Unmarshal(body, &signal); err != nil {
		return DrainSignal{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := signal.Validate(); err != nil {
		return DrainSignal{}, err
	}
	return signal, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
