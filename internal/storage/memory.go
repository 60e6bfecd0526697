package storage

import (
	"context"
	"sync"
	"time"
)

var _ ReplayGuard = (*MemoryReplayGuard)(nil)

// MemoryReplayGuard keeps consumed nonces in process memory. It only protects
// a single replica.
type MemoryReplayGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> expiry
	now     func() time.Time

	cleanup *CleanupManager
}

// NewMemoryReplayGuard creates an empty guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Consume implements ReplayGuard.
func (g *MemoryReplayGuard) Consume(_ context.Context, nonce string, expiresAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if exp, ok := g.entries[nonce]; ok && g.now().Before(exp) {
		return ErrAlreadyConsumed
	}
	g.entries[nonce] = expiresAt
	return nil
}

// CleanupExpired drops nonces whose state can no longer be decoded anyway.
func (g *MemoryReplayGuard) CleanupExpired(_ context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	count := 0
	for nonce, exp := range g.entries {
		if !now.Before(exp) {
			delete(g.entries, nonce)
			count++
		}
	}
	return count, nil
}

// Len returns the number of remembered nonces.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// StartCleanup runs CleanupExpired every interval until Close.
func (g *MemoryReplayGuard) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 || g.cleanup != nil {
		return
	}
	g.cleanup = NewCleanupManager(g, interval)
	g.cleanup.Start(ctx)
}

// Close stops the cleanup loop, if running.
func (g *MemoryReplayGuard) Close() error {
	if g.cleanup != nil {
		g.cleanup.Stop()
		g.cleanup = nil
	}
	return nil
}
