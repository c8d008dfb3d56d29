package services

import (
	"context"
	"fmt"
	"time"

	"github.com/wavechat/wavechat-backend/internal/cache"
)

// TypingTTL is how long a typing indicator lives without a refresh. Clients
// re-emit typing:start while the user keeps typing; silence lets it expire.
const TypingTTL = 3 * time.Second

// TypingService stores ephemeral typing indicators keyed by
// (conversation, user). Absence of the key means "not typing". There is
// deliberately no way to enumerate all typers of a conversation.
type TypingService struct {
	cache cache.Store
}

func NewTypingService(c cache.Store) *TypingService {
	return &TypingService{cache: c}
}

func typingKey(conversationID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", conversationID, userID)
}

// Start sets the indicator, rewriting the TTL on every call. No debounce.
func (t *TypingService) Start(ctx context.Context, conversationID, userID string) error {
	return t.cache.Set(ctx, typingKey(conversationID, userID), true, TypingTTL)
}

// Stop clears the indicator. Deleting an absent key is fine.
func (t *TypingService) Stop(ctx context.Context, conversationID, userID string) error {
	return t.cache.Delete(ctx, typingKey(conversationID, userID))
}

// IsTyping checks for the key's existence.
func (t *TypingService) IsTyping(ctx context.Context, conversationID, userID string) (bool, error) {
	return t.cache.Exists(ctx, typingKey(conversationID, userID))
}
