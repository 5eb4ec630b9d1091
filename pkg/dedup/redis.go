package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "flowpoint:dedup:"
	DefaultTTL       = 7 * 24 * time.Hour
)

// releaseScript deletes the key only while it is still bound to the releasing execution.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares claims between every dispatcher connected to the same Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore parses a redis:// URL and connects to it.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, DefaultKeyPrefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client. A non-positive ttl keeps claims forever.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: max(ttl, 0)}
}

func (s *RedisStore) Claim(ctx context.Context, key, executionID string) (string, bool, error) {
	redisKey := s.prefix + key

	// a claim can expire between SETNX and GET; one more attempt settles it
	for range 2 {
		claimed, err := s.client.SetNX(ctx, redisKey, executionID, s.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to claim dedup key: %w", err)
		}

		if claimed {
			return executionID, true, nil
		}

		bound, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			return "", false, fmt.Errorf("failed to read dedup key: %w", err)
		}

		return bound, false, nil
	}

	return "", false, fmt.Errorf("dedup key %s flapped while claiming", key)
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	bound, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to read dedup key: %w", err)
	}

	return bound, true, nil
}

func (s *RedisStore) Release(ctx context.Context, key, executionID string) error {
	err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, executionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
