package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// minRedisTTL keeps a nonce whose state is about to expire from being
// written without expiry.
const minRedisTTL = time.Second

// RedisConfig configures a RedisReplayGuard.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

var _ ReplayGuard = (*RedisReplayGuard)(nil)

// RedisReplayGuard shares consumed nonces between replicas.
type RedisReplayGuard struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisReplayGuard connects to Redis and verifies the connection.
func NewRedisReplayGuard(ctx context.Context, cfg RedisConfig) (*RedisReplayGuard, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisReplayGuardWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisReplayGuardWithClient wraps an existing client.
func NewRedisReplayGuardWithClient(client redis.UniversalClient, keyPrefix string) *RedisReplayGuard {
	return &RedisReplayGuard{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Consume implements ReplayGuard with SET NX, so two replicas racing on the
// same nonce cannot both win.
func (g *RedisReplayGuard) Consume(ctx context.Context, nonce string, expiresAt time.Time) error {
	ttl := max(expiresAt.Sub(g.now()), minRedisTTL)

	ok, err := g.client.SetNX(ctx, g.keyPrefix+nonce, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to record nonce: %w", err)
	}
	if !ok {
		return ErrAlreadyConsumed
	}
	return nil
}

// Ping checks Redis connectivity.
func (g *RedisReplayGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (g *RedisReplayGuard) Close() error {
	return g.client.Close()
}
