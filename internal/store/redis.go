package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// DeliveryChannel is the pub/sub channel carrying fan-out envelopes between instances.
const DeliveryChannel = "chatrelay:deliveries"

// RedisStore handles Redis operations for cross-instance fan-out and rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Publish sends a payload to every subscriber of channel.
func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	start := time.Now()
	defer func() {
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe subscribes to channel and waits for the subscription to be confirmed.
// The caller must close the returned PubSub.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}
