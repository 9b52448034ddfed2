package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"charity-service/internal/database"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisService struct {
	client *database.RedisClient
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
	}
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records one hit under key and reports whether fewer than
// limit hits were already recorded in the trailing window.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixMilli()

	pipe := r.client.GetClient().Pipeline()

	// Remove old entries
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))

	// Count current entries
	count := pipe.ZCard(ctx, key)

	// Add current request
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})

	// Set expiration
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Rate limit check failed", "key", key, "error", err)
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	return count.Val() < int64(limit), nil
}

// ResetRateLimit forgets all hits recorded under key.
func (r *RedisService) ResetRateLimit(ctx context.Context, key string) error {
	return r.client.GetClient().Del(ctx, key).Err()
}

// Ping reports whether Redis is reachable.
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}
