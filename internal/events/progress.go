// Package events publishes ingestion checkpoints to interested listeners.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cloo-solutions/closerbrain/internal/logger"
)

// Progress is one stored ingestion checkpoint.
type Progress struct {
	OwnerID  string    `json:"owner_id"`
	SourceID string    `json:"source_id"`
	RunID    string    `json:"run_id"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher delivers progress checkpoints. Delivery is best-effort.
type Publisher interface {
	PublishProgress(ctx context.Context, p Progress) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishProgress(context.Context, Progress) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Close() error
}

// RedisPublisher publishes checkpoints as JSON on a redis pub/sub channel.
type RedisPublisher struct {
	log     *logger.Logger
	rdb     redisClient
	channel string
}

// NewRedisPublisher connects to redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, channel string, log *logger.Logger) (*RedisPublisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "closerbrain.progress"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisPublisher(rdb, channel, log), nil
}

func newRedisPublisher(rdb redisClient, channel string, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisPublisher{
		log:     log.With("service", "RedisProgressPublisher"),
		rdb:     rdb,
		channel: channel,
	}
}

func (p *RedisPublisher) PublishProgress(ctx context.Context, ev Progress) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.log.Debug("progress published", "source_id", ev.SourceID, "status", ev.Status, "progress", ev.Progress)
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
