package consumer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/config"
)

// fetchBackoff is the pause after a fetch that failed all retries.
const fetchBackoff = 500 * time.Millisecond

// handler processes one message. A returned error leaves the offset uncommitted.
type handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer reads the dead-letter topic and hands every record to its handler.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  handler
	topic    string
	strategy retry.Strategy
}

// New creates a new Consumer.
// - cfg: Kafka configuration struct
// - s: retry strategy
// - h: handler for dead-letter messages
func New(cfg *config.Kafka, s retry.Strategy, h handler) *Consumer {
	return &Consumer{
		Client:   wbfkafka.NewConsumer(cfg.Brokers, cfg.DeadLetterTopic, cfg.GroupID),
		handler:  h,
		topic:    cfg.DeadLetterTopic,
		strategy: s,
	}
}

// Consume fetches messages, processes them and commits offsets after success.
// It returns when ctx is canceled.
func (c *Consumer) Consume(ctx context.Context) error {
	zlog.Logger.Info().
		Str("topic", c.topic).
		Msg("starting consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return nil
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			sleep(ctx, fetchBackoff)
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Int64("offset", msg.Offset).
				Msg("failed to handle dead letter")
			continue
		}

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Debug().
			Int64("offset", msg.Offset).
			Msg("message handled successfully")
	}
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	return c.Client.Close()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
