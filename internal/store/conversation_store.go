// Package store is the persistence layer for conversations and messages.
// Each write method is a single statement or transaction; atomicity stops at
// this boundary.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wavechat/wavechat-backend/internal/models"
)

type ConversationStore struct {
	db *gorm.DB
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// CreateConversation persists the aggregate and its participant rows in one
// transaction.
func (s *ConversationStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants", "Messages").Create(conv).Error; err != nil {
			return err
		}
		if len(conv.Participants) > 0 {
			if err := tx.Create(&conv.Participants).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindConversation loads a conversation with all its participant rows
// (including departed ones; the aggregate distinguishes by leftAt).
func (s *ConversationStore) FindConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Participants").
		First(&conv, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindDirectBetween returns the existing DIRECT conversation for an unordered
// user pair, or gorm.ErrRecordNotFound. This is the dedupe lookup run before
// every DIRECT creation.
func (s *ConversationStore) FindDirectBetween(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	var id string
	err := s.db.WithContext(ctx).Raw(`
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id = ?
		JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id = ?
		WHERE c.type = ?
		LIMIT 1
	`, userA, userB, models.ConversationDirect).Scan(&id).Error
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return s.FindConversation(ctx, id)
}

// ConversationsForUser returns every conversation the user is an active
// participant of, newest activity first. typeFilter may be empty.
func (s *ConversationStore) ConversationsForUser(ctx context.Context, userID string, typeFilter models.ConversationType) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ? AND cp.left_at IS NULL", userID).
		Order("conversations.updated_at DESC")
	if typeFilter != "" {
		q = q.Where("conversations.type = ?", typeFilter)
	}

	var convs []models.Conversation
	if err := q.Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// SaveConversation flushes aggregate mutations: the conversation row plus an
// upsert of every participant row (membership changes touch existing rows and
// add new ones).
func (s *ConversationStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"name":       conv.Name,
				"is_active":  conv.IsActive,
				"updated_at": conv.UpdatedAt,
			}).Error
		if err != nil {
			return err
		}
		if len(conv.Participants) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			UpdateAll: true,
		}).Create(&conv.Participants).Error
	})
}

// SaveMessage persists a new message and bumps the conversation's updatedAt
// in the same transaction so list ordering stays consistent.
func (s *ConversationStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sender").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt).Error
	})
}

// UpdateMessage flushes content/flag changes of an existing message.
func (s *ConversationStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"content":      msg.Content,
			"is_delivered": msg.IsDelivered,
			"is_read":      msg.IsRead,
			"is_edited":    msg.IsEdited,
			"updated_at":   msg.UpdatedAt,
		}).Error
}

func (s *ConversationStore) FindMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessagesPage returns one page of a conversation's history, newest first,
// plus the total count.
func (s *ConversationStore) MessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// LastMessage returns the newest message of a conversation, or nil if the
// conversation is empty.
func (s *ConversationStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnreadCount counts messages from other senders newer than the participant's
// lastReadAt.
func (s *ConversationStore) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	var p models.ConversationParticipant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID)
	if p.LastReadAt != nil {
		q = q.Where("created_at > ?", *p.LastReadAt)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateLastRead moves the participant's read marker. Only active
// participants have one.
func (s *ConversationStore) UpdateLastRead(ctx context.Context, conversationID, userID string, readAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Update("last_read_at", readAt).Error
}

// SearchMessages runs full-text search over every conversation the user
// participates in. Postgres gets tsvector ranking; other dialects (the SQLite
// test database) fall back to a substring match ordered by recency.
func (s *ConversationStore) SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	var messages []models.Message
	if s.db.Dialector.Name() == "postgres" {
		err := s.db.WithContext(ctx).Raw(`
			SELECT m.*
			FROM messages m
			JOIN conversation_participants cp
			  ON cp.conversation_id = m.conversation_id
			 AND cp.user_id = ?
			 AND cp.left_at IS NULL
			WHERE to_tsvector('english', m.content) @@ plainto_tsquery('english', ?)
			ORDER BY ts_rank(to_tsvector('english', m.content), plainto_tsquery('english', ?)) DESC,
			         m.created_at DESC
			LIMIT ?
		`, userID, query, query, limit).Scan(&messages).Error
		return messages, err
	}

	err := s.db.WithContext(ctx).Raw(`
		SELECT m.*
		FROM messages m
		JOIN conversation_participants cp
		  ON cp.conversation_id = m.conversation_id
		 AND cp.user_id = ?
		 AND cp.left_at IS NULL
		WHERE m.content LIKE ?
		ORDER BY m.created_at DESC
		LIMIT ?
	`, userID, "%"+query+"%", limit).Scan(&messages).Error
	return messages, err
}
