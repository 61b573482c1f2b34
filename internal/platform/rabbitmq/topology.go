// Package rabbitmq carries background jobs between the API server and the
// worker processes in distributed mode.
//
// Every job type has three durable queues:
//
//	<type>        jobs ready to run
//	<type>.retry  failed jobs waiting out their backoff; expired messages
//	              are dead-lettered back to <type>
//	<type>.dead   jobs that exhausted their retries
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

// attemptHeader counts deliveries of a job, starting at 1.
const attemptHeader = "x-attempt"

// errorHeader records the last failure on dead-lettered jobs.
const errorHeader = "x-last-error"

// Channel is the part of *amqp.Channel used to declare and publish.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RetryQueue names the backoff queue of queue.
func RetryQueue(queue string) string { return queue + ".retry" }

// DeadQueue names the dead letter queue of queue.
func DeadQueue(queue string) string { return queue + ".dead" }

// DeclareTopology declares the main, retry and dead queues of queue.
// Declaring an existing queue with the same arguments is a no-op.
func DeclareTopology(ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(RetryQueue(queue), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", RetryQueue(queue), err)
	}

	if _, err := ch.QueueDeclare(DeadQueue(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadQueue(queue), err)
	}
	return nil
}

// Dial connects to the broker, retrying while it is still starting up.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var conn *amqp.Connection
	b := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		c, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("rabbitmq not reachable yet", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}
