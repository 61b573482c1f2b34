// Package redis relays progress events between worker processes and the
// server that holds the live connections.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/progress"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Envelope is the message published on the progress channel.
type Envelope struct {
	SessionID string          `json:"session_id"`
	Update    progress.Update `json:"update"`
}

// NewClient creates a go-redis client from cfg.
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// pingClient is the part of *goredis.Client used by WaitReady.
type pingClient interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

// WaitReady pings the server until it answers, retrying while it is still
// starting up.
func WaitReady(ctx context.Context, client pingClient, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	b := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	return nil
}

// publishClient is the part of *goredis.Client used by ProgressPublisher.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// ProgressPublisher implements progress.Publisher on a Redis channel.
type ProgressPublisher struct {
	client  publishClient
	channel string
}

var _ progress.Publisher = (*ProgressPublisher)(nil)

// NewProgressPublisher creates a publisher writing to channel.
func NewProgressPublisher(client publishClient, channel string) (*ProgressPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if channel == "" {
		return nil, errors.New("progress channel cannot be empty")
	}
	return &ProgressPublisher{client: client, channel: channel}, nil
}

// Publish implements progress.Publisher. The number of receivers is not
// checked; an event nobody listens to is dropped.
func (p *ProgressPublisher) Publish(ctx context.Context, sessionID string, update progress.Update) error {
	data, err := json.Marshal(Envelope{SessionID: sessionID, Update: update})
	if err != nil {
		return fmt.Errorf("encode progress envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish progress to %s: %w", p.channel, err)
	}
	return nil
}

// ProgressSubscriber forwards envelopes from the progress channel to a
// local publisher, normally the server's Hub.
type ProgressSubscriber struct {
	client  *goredis.Client
	channel string
	target  progress.Publisher
	logger  *slog.Logger
}

// NewProgressSubscriber creates a subscriber that hands every envelope
// on channel to target.
func NewProgressSubscriber(
	client *goredis.Client,
	channel string,
	target progress.Publisher,
	logger *slog.Logger,
) *ProgressSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressSubscriber{
		client:  client,
		channel: channel,
		target:  target,
		logger:  logger.With("component", "progress_subscriber", "channel", channel),
	}
}

// Run subscribes and forwards messages until ctx is done. go-redis
// reconnects the subscription on its own after network errors.
func (s *ProgressSubscriber) Run(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer func() {
		if err := ps.Close(); err != nil {
			s.logger.Warn("failed to close subscription", "error", err)
		}
	}()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.channel, err)
	}
	s.logger.Info("subscribed to progress channel")

	return s.consume(ctx, ps.Channel())
}

// consume forwards messages from ch until ctx is done or ch closes.
func (s *ProgressSubscriber) consume(ctx context.Context, ch <-chan *goredis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.forward(ctx, msg)
		}
	}
}

func (s *ProgressSubscriber) forward(ctx context.Context, msg *goredis.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		s.logger.Warn("dropping malformed progress message", "error", err)
		return
	}
	if env.SessionID == "" {
		s.logger.Warn("dropping progress message without session", "task_id", env.Update.TaskID)
		return
	}
	if err := s.target.Publish(ctx, env.SessionID, env.Update); err != nil {
		s.logger.Warn("failed to deliver progress",
			"session_id", env.SessionID,
			"task_id", env.Update.TaskID,
			"error", err)
	}
}
