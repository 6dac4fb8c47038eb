package telemetry

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes messages over Redis pub/sub.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(addr string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *RedisSink) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Ping verifies connectivity at startup.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
