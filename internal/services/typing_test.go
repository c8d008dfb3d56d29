package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wavechat/wavechat-backend/internal/cache"
)

func TestTyping_StartStop(t *testing.T) {
	mem := cache.NewMemoryStore()
	svc := NewTypingService(mem)
	ctx := context.Background()

	typing, err := svc.IsTyping(ctx, "conv1", "alice")
	assert.NoError(t, err)
	assert.False(t, typing)

	assert.NoError(t, svc.Start(ctx, "conv1", "alice"))
	typing, _ = svc.IsTyping(ctx, "conv1", "alice")
	assert.True(t, typing)

	// stop clears immediately, and is idempotent
	assert.NoError(t, svc.Stop(ctx, "conv1", "alice"))
	assert.NoError(t, svc.Stop(ctx, "conv1", "alice"))
	typing, _ = svc.IsTyping(ctx, "conv1", "alice")
	assert.False(t, typing)
}

func TestTyping_ExpiresAfterTTL(t *testing.T) {
	mem := cache.NewMemoryStore()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	svc := NewTypingService(mem)
	ctx := context.Background()

	assert.NoError(t, svc.Start(ctx, "conv1", "alice"))

	now = now.Add(TypingTTL - time.Millisecond)
	typing, _ := svc.IsTyping(ctx, "conv1", "alice")
	assert.True(t, typing)

	now = now.Add(2 * time.Millisecond)
	typing, _ = svc.IsTyping(ctx, "conv1", "alice")
	assert.False(t, typing)
}

func TestTyping_StartRewritesTTL(t *testing.T) {
	mem := cache.NewMemoryStore()
	now := time.Now()
	mem.Now = func() time.Time { return now }
	svc := NewTypingService(mem)
	ctx := context.Background()

	assert.NoError(t, svc.Start(ctx, "conv1", "alice"))
	now = now.Add(2 * time.Second)
	assert.NoError(t, svc.Start(ctx, "conv1", "alice"))

	// 2s after the refresh the original TTL would have expired
	now = now.Add(2 * time.Second)
	typing, _ := svc.IsTyping(ctx, "conv1", "alice")
	assert.True(t, typing)
}

func TestTyping_KeysAreScoped(t *testing.T) {
	mem := cache.NewMemoryStore()
	svc := NewTypingService(mem)
	ctx := context.Background()

	assert.NoError(t, svc.Start(ctx, "conv1", "alice"))

	typing, _ := svc.IsTyping(ctx, "conv2", "alice")
	assert.False(t, typing)
	typing, _ = svc.IsTyping(ctx, "conv1", "bob")
	assert.False(t, typing)
}
