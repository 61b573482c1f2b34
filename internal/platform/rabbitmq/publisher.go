package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/manga-api/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher enqueues jobs on the queue named by their event type.
// It implements events.EventHandler.
type Publisher struct {
	mu       sync.Mutex
	ch       Channel
	declared map[string]bool
	logger   *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher creates a Publisher on ch. Queues are declared on first use.
func NewPublisher(ch Channel, logger *slog.Logger) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("rabbitmq channel cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		ch:       ch,
		declared: make(map[string]bool),
		logger:   logger.With("component", "rabbitmq_publisher"),
	}, nil
}

// HandleEvent implements events.EventHandler.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	if event == nil || event.Type == "" {
		return fmt.Errorf("%w: event without type", events.ErrUnknownEventType)
	}
	if err := p.publish(ctx, event.Type, event.Type, event, ""); err != nil {
		return err
	}
	p.logger.Debug("job enqueued",
		"event_id", event.ID,
		"event_type", event.Type,
		"attempt", event.Attempt)
	return nil
}

// publish sends event to routingKey after making sure the topology of
// queue exists. expiration is the per-message TTL in milliseconds.
func (p *Publisher) publish(
	ctx context.Context,
	queue, routingKey string,
	event *events.TaskRequestEvent,
	expiration string,
	extraHeaders ...amqp.Table,
) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s job: %w", event.Type, err)
	}

	attempt := event.Attempt
	if attempt < 1 {
		attempt = 1
	}
	headers := amqp.Table{attemptHeader: int32(attempt)}
	for _, extra := range extraHeaders {
		for k, v := range extra {
			headers[k] = v
		}
	}

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Expiration:   expiration,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queue] {
		if err := DeclareTopology(p.ch, queue); err != nil {
			return err
		}
		p.declared[queue] = true
	}
	if err := p.ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s job to %s: %w", event.Type, routingKey, err)
	}
	return nil
}
