// Package storage remembers which state nonces have already been redeemed,
// so that a captured callback URL cannot be replayed within the state's
// expiry window.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/oauth-signin/internal/config"
)

// ErrAlreadyConsumed is returned when a nonce is presented a second time.
var ErrAlreadyConsumed = errors.New("nonce already consumed")

// ReplayGuard records state nonces on first use.
type ReplayGuard interface {
	// Consume marks nonce as used until expiresAt. It returns
	// ErrAlreadyConsumed when the nonce was already marked.
	Consume(ctx context.Context, nonce string, expiresAt time.Time) error

	// Close releases the guard's resources.
	Close() error
}

// NopReplayGuard accepts every nonce.
type NopReplayGuard struct{}

var _ ReplayGuard = NopReplayGuard{}

// Consume always succeeds.
func (NopReplayGuard) Consume(context.Context, string, time.Time) error { return nil }

// Close does nothing.
func (NopReplayGuard) Close() error { return nil }

// New creates the guard selected by cfg. The memory guard starts its cleanup
// loop, which stops when the guard is closed.
func New(ctx context.Context, cfg config.ReplayConfig) (ReplayGuard, error) {
	switch cfg.Store {
	case config.ReplayStoreNone:
		return NopReplayGuard{}, nil
	case config.ReplayStoreMemory, "":
		guard := NewMemoryReplayGuard()
		guard.StartCleanup(ctx, cfg.CleanupInterval.Std())
		return guard, nil
	case config.ReplayStoreRedis:
		return NewRedisReplayGuard(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  string(cfg.RedisPassword),
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown replay store: %s", cfg.Store)
	}
}
