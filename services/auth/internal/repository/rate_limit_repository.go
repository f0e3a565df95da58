package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type rateLimitRepository struct {
	client *redis.Client
	prefix string
}

func NewRateLimitRepository(client *redis.Client) RateLimitRepository {
	return &rateLimitRepository{client: client, prefix: "ratelimit:"}
}

// Allow is a fixed-window counter. Redis errors fail open.
func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	// Keys often carry e-mail addresses; only a hash reaches redis.
	hashed := fmt.Sprintf("%s%x", r.prefix, sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// SET NX EX creates the window with its TTL in the same MULTI as the
	// INCR, so a counter can never exist without an expiry.
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, hashed, 0, window)
		incr = pipe.Incr(ctx, hashed)
		return nil
	})
	if err != nil {
		logger.WarnContext(ctx, "rate limit check failed, allowing request", "error", err)
		return true, nil
	}
	count := incr.Val()
	return count <= int64(limit), nil
}
