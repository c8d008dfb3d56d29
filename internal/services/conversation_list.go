package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavechat/wavechat-backend/internal/cache"
	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/store"
)

const (
	// ListCacheTTL bounds staleness of the enriched list view.
	ListCacheTTL = 60 * time.Second

	// PreviewLength is how many characters of the last message show up in
	// list views before truncation.
	PreviewLength = 50

	// DefaultListLimit caps a list page when the client sends none.
	DefaultListLimit = 50
)

// LastMessagePreview is the truncated tail message shown in list views.
type LastMessagePreview struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationPreview is one enriched row of a user's conversation list.
type ConversationPreview struct {
	ID             string                  `json:"id"`
	Name           *string                 `json:"name"`
	Type           models.ConversationType `json:"type"`
	IsActive       bool                    `json:"isActive"`
	UpdatedAt      time.Time               `json:"updatedAt"`
	ParticipantIDs []string                `json:"participantIds"`
	UnreadCount    int64                   `json:"unreadCount"`
	LastMessage    *LastMessagePreview     `json:"lastMessage"`
}

// ConversationListService serves the cached, enriched conversation list.
// Cache failures are logged and degrade to direct store reads; they never
// fail the user-facing call.
type ConversationListService struct {
	store *store.ConversationStore
	cache cache.Store
	log   zerolog.Logger
}

func NewConversationListService(s *store.ConversationStore, c cache.Store, log zerolog.Logger) *ConversationListService {
	return &ConversationListService{store: s, cache: c, log: log}
}

func listKey(userID string, typeFilter models.ConversationType) string {
	if typeFilter == "" {
		return fmt.Sprintf("conversations:%s", userID)
	}
	return fmt.Sprintf("conversations:%s:%s", userID, typeFilter)
}

// List returns one page of the user's conversations, newest activity first.
// The full enriched list is cached; pagination applies after enrichment.
func (s *ConversationListService) List(ctx context.Context, userID string, typeFilter models.ConversationType, limit, offset int) ([]ConversationPreview, error) {
	key := listKey(userID, typeFilter)

	var cached []ConversationPreview
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("conversation list cache read failed, falling back to store")
	} else if found {
		return paginate(cached, limit, offset), nil
	}

	convs, err := s.store.ConversationsForUser(ctx, userID, typeFilter)
	if err != nil {
		return nil, err
	}

	previews := make([]ConversationPreview, 0, len(convs))
	for i := range convs {
		conv := &convs[i]

		unread, err := s.store.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}

		var last *LastMessagePreview
		lastMsg, err := s.store.LastMessage(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if lastMsg != nil {
			last = &LastMessagePreview{
				ID:        lastMsg.ID,
				SenderID:  lastMsg.SenderID,
				Content:   lastMsg.Preview(PreviewLength),
				CreatedAt: lastMsg.CreatedAt,
			}
		}

		previews = append(previews, ConversationPreview{
			ID:             conv.ID,
			Name:           conv.Name,
			Type:           conv.Type,
			IsActive:       conv.IsActive,
			UpdatedAt:      conv.UpdatedAt,
			ParticipantIDs: conv.ActiveParticipantIDs(),
			UnreadCount:    unread,
			LastMessage:    last,
		})
	}

	if err := s.cache.Set(ctx, key, previews, ListCacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("conversation list cache write failed")
	}

	return paginate(previews, limit, offset), nil
}

// InvalidateFor drops every cache entry of the given users: the unfiltered
// key plus each type-filtered key. Called on every new message and read
// receipt, for every participant.
func (s *ConversationListService) InvalidateFor(ctx context.Context, userIDs ...string) {
	keys := make([]string, 0, len(userIDs)*3)
	for _, id := range userIDs {
		keys = append(keys,
			listKey(id, ""),
			listKey(id, models.ConversationDirect),
			listKey(id, models.ConversationGroup),
		)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Strs("users", userIDs).Msg("conversation list cache invalidation failed")
	}
}

func paginate(list []ConversationPreview, limit, offset int) []ConversationPreview {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []ConversationPreview{}
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}
