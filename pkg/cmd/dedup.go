package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowpoint/pkg/dedup"
)

// NewDedupStore connects to Redis when a URL is given. Without one, claims
// are kept in process and only deduplicate within a single replica.
func NewDedupStore(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (dedup.Store, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "No Redis configured, dedup claims are local to this process")

		return dedup.NewMemoryStore(), nil
	}

	store, err := dedup.NewRedisStore(ctx, redisURL, ttl)
	if err != nil {
		return nil, err
	}

	return store, nil
}
