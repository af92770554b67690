package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// RedisPublisher publishes events on a channel and keeps the latest progress per job.
//
// Keys:
//
//	<prefix>:events            pub/sub channel with JSON events
//	<prefix>:progress:<jobID>  latest JobProgress, expires after ttl
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisPublisherFromClient(rdb, prefix, ttl), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *RedisPublisher {
	if prefix == "" {
		prefix = "generation"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Channel returns the pub/sub channel name.
func (p *RedisPublisher) Channel() string {
	return p.prefix + ":events"
}

func (p *RedisPublisher) progressKey(jobID uuid.UUID) string {
	return p.prefix + ":progress:" + jobID.String()
}

// Publish writes the event to the channel, and its progress to the latest-progress key.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	if e.Progress != nil {
		progress, err := json.Marshal(e.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
		pipe.Set(ctx, p.progressKey(e.JobID), progress, p.ttl)
	}
	pipe.Publish(ctx, p.Channel(), raw)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	return nil
}

// LatestProgress returns the last progress stored for jobID.
func (p *RedisPublisher) LatestProgress(ctx context.Context, jobID uuid.UUID) (model.JobProgress, bool, error) {
	raw, err := p.rdb.Get(ctx, p.progressKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.JobProgress{}, false, nil
		}
		return model.JobProgress{}, false, fmt.Errorf("redis get progress: %w", err)
	}

	var progress model.JobProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return model.JobProgress{}, false, fmt.Errorf("unmarshal progress: %w", err)
	}

	return progress, true, nil
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
