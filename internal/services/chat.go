package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/queue"
	"github.com/wavechat/wavechat-backend/internal/store"
)

// ChatService holds the messaging use cases shared by the REST handlers and
// the socket gateway. All collaborators are injected at startup.
type ChatService struct {
	store    *store.ConversationStore
	lists    *ConversationListService
	typing   *TypingService
	presence Presence
	queue    queue.DeliveryQueue
	log      zerolog.Logger
}

func NewChatService(
	s *store.ConversationStore,
	lists *ConversationListService,
	typing *TypingService,
	presence Presence,
	q queue.DeliveryQueue,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{
		store:    s,
		lists:    lists,
		typing:   typing,
		presence: presence,
		queue:    q,
		log:      log,
	}
}

// CreateConversation builds and persists a conversation. Creating a DIRECT
// conversation for a pair that already has one returns the existing one
// instead of a duplicate.
func (s *ChatService) CreateConversation(ctx context.Context, createdBy string, name *string, ctype models.ConversationType, participantIDs []string) (*models.Conversation, bool, error) {
	conv, err := models.NewConversation(name, ctype, createdBy, participantIDs)
	if err != nil {
		return nil, false, err
	}

	if ctype == models.ConversationDirect {
		ids := conv.ActiveParticipantIDs()
		existing, err := s.store.FindDirectBetween(ctx, ids[0], ids[1])
		if err == nil {
			return existing, false, nil
		}
		// only a confirmed miss may proceed to insert; a failed lookup must
		// not create a second conversation for the pair
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	s.lists.InvalidateFor(ctx, conv.ActiveParticipantIDs()...)
	return conv, true, nil
}

// SendMessage runs the full send path: authorize via the aggregate, persist,
// invalidate every participant's list cache, clear the sender's typing
// indicator, and queue offline delivery for recipients with no connection
// anywhere. Broadcasting is the caller's job; the returned conversation
// carries the participant set the caller needs for it.
func (s *ChatService) SendMessage(ctx context.Context, senderID, conversationID, content string) (*models.Message, *models.Conversation, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := conv.AddMessage(senderID, content)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	s.lists.InvalidateFor(ctx, conv.ActiveParticipantIDs()...)

	if err := s.typing.Stop(ctx, conversationID, senderID); err != nil {
		s.log.Warn().Err(err).Str("conversation", conversationID).Str("user", senderID).Msg("typing auto-clear failed")
	}

	s.enqueueOffline(ctx, conv, msg)

	return msg, conv, nil
}

// enqueueOffline queues one delivery job per participant with no active
// connection on any instance. Presence or queue failures are logged, never
// surfaced: the message is already persisted and reconnect sync covers it.
func (s *ChatService) enqueueOffline(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	for _, uid := range conv.ActiveParticipantIDs() {
		if uid == msg.SenderID {
			continue
		}
		online, err := s.presence.IsOnline(ctx, uid)
		if err != nil {
			s.log.Warn().Err(err).Str("user", uid).Msg("presence check failed, skipping offline enqueue")
			continue
		}
		if online {
			continue
		}
		job := queue.DeliveryJob{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			RecipientID:    uid,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.log.Error().Err(err).Str("user", uid).Str("message", msg.ID).Msg("offline delivery enqueue failed")
		}
	}
}

// MarkConversationRead updates the caller's read marker and returns the
// timestamp written (defaults to now).
func (s *ChatService) MarkConversationRead(ctx context.Context, userID, conversationID string, lastReadAt *time.Time) (time.Time, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if !conv.IsParticipant(userID) {
		return time.Time{}, models.ErrNotParticipant
	}

	readAt := time.Now()
	if lastReadAt != nil {
		readAt = *lastReadAt
	}
	if err := s.store.UpdateLastRead(ctx, conversationID, userID, readAt); err != nil {
		return time.Time{}, err
	}
	s.lists.InvalidateFor(ctx, userID)
	return readAt, nil
}

// EditMessage applies the sender-only, 15-minute edit rule and persists the
// new content.
func (s *ChatService) EditMessage(ctx context.Context, editorID, messageID, content string) (*models.Message, error) {
	msg, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.CanBeEditedBy(editorID) {
		return nil, models.ErrNotMessageSender
	}
	if !msg.CanBeEdited() {
		return nil, models.ErrEditWindowExpired
	}
	if err := msg.Edit(content); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if conv, err := s.store.FindConversation(ctx, msg.ConversationID); err == nil {
		s.lists.InvalidateFor(ctx, conv.ActiveParticipantIDs()...)
	}
	return msg, nil
}

// AddParticipant / RemoveParticipant / Rename / Archive / Reactivate load the
// aggregate, apply the rule, and flush. Last-write-wins under concurrency;
// there is no conversation-level lock.

func (s *ChatService) AddParticipant(ctx context.Context, conversationID, userID, addedBy string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		return conv.AddParticipant(userID, addedBy)
	})
}

func (s *ChatService) RemoveParticipant(ctx context.Context, conversationID, userID, removedBy string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		return conv.RemoveParticipant(userID, removedBy)
	})
}

func (s *ChatService) RenameConversation(ctx context.Context, conversationID, newName, updatedBy string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		return conv.UpdateName(newName, updatedBy)
	})
}

func (s *ChatService) ArchiveConversation(ctx context.Context, conversationID, by string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		return conv.Archive(by)
	})
}

func (s *ChatService) ReactivateConversation(ctx context.Context, conversationID, by string) (*models.Conversation, error) {
	return s.mutate(ctx, conversationID, func(conv *models.Conversation) error {
		return conv.Reactivate(by)
	})
}

func (s *ChatService) mutate(ctx context.Context, conversationID string, op func(*models.Conversation) error) (*models.Conversation, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := op(conv); err != nil {
		return nil, err
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.lists.InvalidateFor(ctx, conv.ActiveParticipantIDs()...)
	return conv, nil
}

// Conversation loads a conversation for read access.
func (s *ChatService) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.store.FindConversation(ctx, id)
}

// ConversationsOf lists the ids of every conversation the user participates
// in; the gateway uses it to auto-join rooms on connect.
func (s *ChatService) ConversationsOf(ctx context.Context, userID string) ([]string, error) {
	convs, err := s.store.ConversationsForUser(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for i := range convs {
		ids = append(ids, convs[i].ID)
	}
	return ids, nil
}
