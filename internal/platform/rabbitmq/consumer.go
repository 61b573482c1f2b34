package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/task"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the channel.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// ConsumeChannel is the part of *amqp.Channel used by Consumer.
type ConsumeChannel interface {
	Channel
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(
		ctx context.Context,
		queue, consumer string,
		autoAck, exclusive, noLocal, noWait bool,
		args amqp.Table,
	) (<-chan amqp.Delivery, error)
}

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	// Prefetch bounds unacknowledged deliveries per queue.
	Prefetch int
	// Concurrency is the number of jobs run at the same time.
	Concurrency int
	// MaxRetries is the attempt after which a failing job is dead-lettered.
	MaxRetries int
	// RetryDelay is the wait before the second attempt; it doubles after.
	RetryDelay time.Duration
	// SoftTimeLimit is when a still running job gets logged as slow.
	SoftTimeLimit time.Duration
	// HardTimeLimit bounds one execution. Zero means no limit.
	HardTimeLimit time.Duration
	// Tag prefixes the consumer tags shown by the broker.
	Tag string
}

// NewConsumerConfig builds a ConsumerConfig from the loaded configuration.
func NewConsumerConfig(mq config.RabbitMQConfig, tasks config.TaskConfig) ConsumerConfig {
	return ConsumerConfig{
		Prefetch:      mq.Prefetch,
		Concurrency:   mq.Concurrency,
		MaxRetries:    mq.MaxRetries,
		RetryDelay:    mq.RetryDelay,
		SoftTimeLimit: tasks.SoftTimeLimit,
		HardTimeLimit: tasks.HardTimeLimit,
		Tag:           "manga-worker",
	}
}

// Consumer runs queued jobs with late acknowledgement. A delivery is acked
// only after its job finished and any follow-up message was published, so
// jobs held by a crashed worker are redelivered by the broker.
type Consumer struct {
	ch         ConsumeChannel
	publisher  *Publisher
	dispatcher *task.Dispatcher
	cfg        ConsumerConfig
	logger     *slog.Logger
}

// NewConsumer creates a Consumer that builds jobs through dispatcher.
func NewConsumer(
	ch ConsumeChannel,
	dispatcher *task.Dispatcher,
	cfg ConsumerConfig,
	log *slog.Logger,
) (*Consumer, error) {
	if ch == nil {
		return nil, errors.New("rabbitmq channel cannot be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Tag == "" {
		cfg.Tag = "manga-worker"
	}

	publisher, err := NewPublisher(ch, log)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		ch:         ch,
		publisher:  publisher,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log.With("component", "rabbitmq_consumer"),
	}, nil
}

// Run consumes queues until ctx is done, then waits for running jobs.
// Without queues it consumes every type known to the dispatcher.
func (c *Consumer) Run(ctx context.Context, queues ...string) error {
	if len(queues) == 0 {
		queues = c.dispatcher.Types()
	}
	if len(queues) == 0 {
		return errors.New("no queues to consume")
	}

	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	merged := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for _, q := range queues {
		if err := DeclareTopology(c.ch, q); err != nil {
			return err
		}
		deliveries, err := c.ch.ConsumeWithContext(ctx, q, c.cfg.Tag+"-"+q, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", q, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				select {
				case merged <- d:
				case <-ctx.Done():
					c.nack(d, true)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	pool := pond.NewPool(c.cfg.Concurrency, pond.WithQueueSize(c.cfg.Prefetch*len(queues)))
	defer pool.StopAndWait()

	c.logger.Info("consuming jobs",
		"queues", queues,
		"concurrency", c.cfg.Concurrency,
		"prefetch", c.cfg.Prefetch)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping, waiting for running jobs")
			return nil
		case d, ok := <-merged:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			if _, submitted := pool.TrySubmit(func() { c.handle(ctx, d) }); !submitted {
				c.logger.Warn("worker pool full, returning job to queue", "message_id", d.MessageId)
				c.nack(d, true)
			}
		}
	}
}

// handle runs one delivery and settles it.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var event events.TaskRequestEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error("discarding malformed job", "message_id", d.MessageId, "error", err)
		c.nack(d, false)
		return
	}
	event.Attempt = attemptOf(d, event.Attempt)

	log := c.logger.With(
		"event_id", event.ID,
		"event_type", event.Type,
		"attempt", event.Attempt)

	job, err := c.dispatcher.Build(event.Type, event.ID, event.Payload)
	if err != nil {
		log.Error("cannot build job", "error", err)
		c.settleFailure(ctx, d, &event, err, true, log)
		return
	}

	log.Info("processing job")
	err = c.execute(logger.WithLogger(ctx, log), job)
	if err == nil {
		log.Info("job completed")
		c.ack(d)
		return
	}

	if ctx.Err() != nil {
		log.Warn("job interrupted by shutdown", "error", err)
		c.nack(d, true)
		return
	}
	c.settleFailure(ctx, d, &event, err, false, log)
}

// settleFailure routes a failed job to its retry or dead queue and acks the
// delivery. If the follow-up cannot be published the delivery is requeued.
func (c *Consumer) settleFailure(
	ctx context.Context,
	d amqp.Delivery,
	event *events.TaskRequestEvent,
	cause error,
	permanent bool,
	log *slog.Logger,
) {
	pubCtx := context.WithoutCancel(ctx)
	queue := event.Type

	if !permanent && shouldRetry(event.Attempt, c.cfg.MaxRetries) {
		delay := task.Backoff(c.cfg.RetryDelay, event.Attempt)
		next := *event
		next.Attempt = event.Attempt + 1

		if err := c.publisher.publish(pubCtx, queue, RetryQueue(queue), &next, expiration(delay)); err != nil {
			log.Error("failed to schedule retry", "error", err)
			c.nack(d, true)
			return
		}
		log.Warn("job failed, scheduled retry", "error", cause, "retry_in", delay)
		c.ack(d)
		return
	}

	headers := amqp.Table{errorHeader: cause.Error()}
	if err := c.publisher.publish(pubCtx, queue, DeadQueue(queue), event, "", headers); err != nil {
		log.Error("failed to dead-letter job", "error", err)
		c.nack(d, true)
		return
	}
	log.Error("job failed permanently", "error", cause)
	c.ack(d)
}

// execute runs the job under the hard time limit, turning panics into errors.
func (c *Consumer) execute(ctx context.Context, job task.Task) (err error) {
	if c.cfg.HardTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HardTimeLimit)
		defer cancel()
	}
	if c.cfg.SoftTimeLimit > 0 {
		slow := time.AfterFunc(c.cfg.SoftTimeLimit, func() {
			c.logger.Warn("job exceeded soft time limit",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"soft_time_limit", c.cfg.SoftTimeLimit)
		})
		defer slow.Stop()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()

	err = job.Execute(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("hard time limit %s exceeded: %w", c.cfg.HardTimeLimit, err)
	}
	return err
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Warn("failed to ack delivery", "message_id", d.MessageId, "error", err)
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Warn("failed to nack delivery", "message_id", d.MessageId, "error", err)
	}
}

// shouldRetry reports whether a job that failed on attempt gets another one.
func shouldRetry(attempt, maxRetries int) bool {
	return attempt < maxRetries
}

// expiration formats delay as a per-message TTL.
func expiration(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

// attemptOf reads the attempt header, falling back to the body.
func attemptOf(d amqp.Delivery, fallback int) int {
	var n int
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case int:
		n = v
	case int16:
		n = int(v)
	case int8:
		n = int(v)
	case uint8:
		n = int(v)
	default:
		n = fallback
	}
	if n < 1 {
		return 1
	}
	return n
}
