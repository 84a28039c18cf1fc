package processor

import (
	"context"
	"sync"
	"time"

	redisclient "ai-hotline/internal/clients/redis"
)

const blacklistPrefix = "token_blacklist:"

// Blacklist keeps revoked token ids in Redis with a TTL matching the token expiry.
// Without Redis it falls back to a process-local map.
type Blacklist struct {
	redis *redisclient.Client

	mu     sync.Mutex
	memory map[string]time.Time
	now    func() time.Time
}

func NewBlacklist(redis *redisclient.Client) *Blacklist {
	return &Blacklist{redis: redis, memory: make(map[string]time.Time), now: time.Now}
}

func (b *Blacklist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if b.redis.IsEnabled() {
		return b.redis.Set(ctx, blacklistPrefix+jti, []byte("1"), ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory[jti] = until
	b.prune()
	return nil
}

func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if b.redis.IsEnabled() {
		n, err := b.redis.Exists(ctx, blacklistPrefix+jti)
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.memory[jti]
	return ok && b.now().Before(until), nil
}

// prune drops expired entries; caller holds mu.
func (b *Blacklist) prune() {
	now := b.now()
	for jti, until := range b.memory {
		if !now.Before(until) {
			delete(b.memory, jti)
		}
	}
}
