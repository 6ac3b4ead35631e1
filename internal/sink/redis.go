package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the string key records are appended to
const DefaultRedisKey = "relaycache:records"

// RedisSink appends records to a Redis string with APPEND
type RedisSink struct {
	client  *redis.Client
	key     string
	opts    Options
	timeout time.Duration
}

// NewRedisSink connects to the Redis server at url (redis://host:port/db) and
// verifies the connection.
func NewRedisSink(url, key string, opts Options) (*RedisSink, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSinkFromClient(client, key, opts), nil
}

// NewRedisSinkFromClient wraps an existing client
func NewRedisSinkFromClient(client *redis.Client, key string, opts Options) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{
		client:  client,
		key:     key,
		opts:    opts,
		timeout: 3 * time.Second,
	}
}

// Key returns the Redis key holding the cache
func (s *RedisSink) Key() string {
	return s.key
}

// Clear deletes the cache key
func (s *RedisSink) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear redis cache %s: %w", s.key, err)
	}
	return nil
}

// AppendText validates and appends a JSON record
func (s *RedisSink) AppendText(text string) error {
	payload, err := frameText(text, s.opts)
	if err != nil {
		return err
	}
	return s.append(payload)
}

// AppendBytes appends raw bytes
func (s *RedisSink) AppendBytes(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return s.append(b)
}

func (s *RedisSink) append(b []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Append(ctx, s.key, string(b)).Err(); err != nil {
		return fmt.Errorf("failed to append to redis cache %s: %w", s.key, err)
	}
	return nil
}

// Close releases the Redis connection pool
func (s *RedisSink) Close() error {
	return s.client.Close()
}
