package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence answers "does this user have at least one active connection on
// any instance". The offline delivery worker and the send path both consult
// it, so the production implementation must be shared state, not a local map.
type Presence interface {
	Connect(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// presenceSafetyTTL caps how long a counter can survive an instance that
// died without decrementing. Stale presence delays offline delivery at
// worst; reconnect sync covers the gap.
const presenceSafetyTTL = 6 * time.Hour

// RedisPresence keeps one connection counter per user.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

func (p *RedisPresence) Connect(ctx context.Context, userID string) error {
	key := presenceKey(userID)
	if err := p.client.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return p.client.Expire(ctx, key, presenceSafetyTTL).Err()
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID string) error {
	key := presenceKey(userID)
	n, err := p.client.Decr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return p.client.Del(ctx, key).Err()
	}
	return nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryPresence is the single-process implementation used in tests.
type MemoryPresence struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{counts: make(map[string]int)}
}

func (p *MemoryPresence) Connect(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return nil
}

func (p *MemoryPresence) Disconnect(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]--
	if p.counts[userID] <= 0 {
		delete(p.counts, userID)
	}
	return nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0, nil
}
