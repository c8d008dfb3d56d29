package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wavechat/wavechat-backend/internal/cache"
	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/queue"
	"github.com/wavechat/wavechat-backend/internal/store"
)

type chatFixture struct {
	db       *gorm.DB
	svc      *ChatService
	lists    *ConversationListService
	typing   *TypingService
	presence *MemoryPresence
	queue    *queue.MemoryQueue
	cache    *cache.MemoryStore
}

// newChatFixture wires the service against in-memory SQLite and the
// in-memory ports, mirroring the production composition in cmd/server.
func newChatFixture(t *testing.T) *chatFixture {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
	)

	st := store.NewConversationStore(db)
	mem := cache.NewMemoryStore()
	lists := NewConversationListService(st, mem, zerolog.Nop())
	typing := NewTypingService(mem)
	presence := NewMemoryPresence()
	q := queue.NewMemoryQueue(16)
	svc := NewChatService(st, lists, typing, presence, q, zerolog.Nop())

	return &chatFixture{db: db, svc: svc, lists: lists, typing: typing, presence: presence, queue: q, cache: mem}
}

func TestCreateConversation_DirectDedupe(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.CreateConversation(ctx, "cs_alice_1", nil, models.ConversationDirect, []string{"cs_bob_1"})
	assert.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.CreateConversation(ctx, "cs_bob_1", nil, models.ConversationDirect, []string{"cs_alice_1"})
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateConversation_DedupeLookupFailureSurfaces(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	// a broken store connection must fail the create, not fall through and
	// insert a second conversation for the pair
	sqlDB, err := f.db.DB()
	assert.NoError(t, err)
	assert.NoError(t, sqlDB.Close())

	_, created, err := f.svc.CreateConversation(ctx, "cs_alice_7", nil, models.ConversationDirect, []string{"cs_bob_7"})
	assert.Error(t, err)
	assert.False(t, created)
}

func TestCreateConversation_InvalidFailsBeforePersist(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateConversation(ctx, "cs_alice_2", nil, models.ConversationGroup, []string{"cs_bob_2"})
	assert.ErrorIs(t, err, models.ErrGroupNameRequired)
}

func TestSendMessage_OnlineRecipientNotQueued(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, err := f.svc.CreateConversation(ctx, "cs_alice_3", nil, models.ConversationDirect, []string{"cs_bob_3"})
	assert.NoError(t, err)

	f.presence.Connect(ctx, "cs_bob_3")

	msg, got, err := f.svc.SendMessage(ctx, "cs_alice_3", conv.ID, "hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, 0, f.queue.Len())
}

func TestSendMessage_OfflineRecipientQueued(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, err := f.svc.CreateConversation(ctx, "cs_alice_4", nil, models.ConversationDirect, []string{"cs_bob_4"})
	assert.NoError(t, err)

	msg, _, err := f.svc.SendMessage(ctx, "cs_alice_4", conv.ID, "are you there")
	assert.NoError(t, err)

	assert.Equal(t, 1, f.queue.Len())
	job, err := f.queue.Dequeue(ctx)
	assert.NoError(t, err)
	assert.Equal(t, msg.ID, job.MessageID)
	assert.Equal(t, "cs_bob_4", job.RecipientID)
	assert.Equal(t, "cs_alice_4", job.SenderID)
	assert.Equal(t, 0, job.Attempts)
}

func TestSendMessage_NotParticipant(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, _ := f.svc.CreateConversation(ctx, "cs_alice_5", nil, models.ConversationDirect, []string{"cs_bob_5"})

	_, _, err := f.svc.SendMessage(ctx, "cs_mallory_5", conv.ID, "let me in")
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	// nothing persisted
	msgs, count, err := f.svc.store.MessagesPage(ctx, conv.ID, 10, 0)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, count)
	assert.Empty(t, msgs)
}

func TestSendMessage_ClearsTyping(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, _ := f.svc.CreateConversation(ctx, "cs_alice_6", nil, models.ConversationDirect, []string{"cs_bob_6"})

	assert.NoError(t, f.typing.Start(ctx, conv.ID, "cs_alice_6"))
	_, _, err := f.svc.SendMessage(ctx, "cs_alice_6", conv.ID, "done typing")
	assert.NoError(t, err)

	typing, _ := f.typing.IsTyping(ctx, conv.ID, "cs_alice_6")
	assert.False(t, typing)
}

func TestSendMessage_InvalidatesListCaches(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, _ := f.svc.CreateConversation(ctx, "cs_alice_7", nil, models.ConversationDirect, []string{"cs_bob_7"})

	// warm both participants' caches
	_, err := f.lists.List(ctx, "cs_alice_7", "", 0, 0)
	assert.NoError(t, err)
	_, err = f.lists.List(ctx, "cs_bob_7", "", 0, 0)
	assert.NoError(t, err)

	_, _, err = f.svc.SendMessage(ctx, "cs_alice_7", conv.ID, "invalidate us")
	assert.NoError(t, err)

	for _, user := range []string{"cs_alice_7", "cs_bob_7"} {
		found, err := f.cache.Exists(ctx, listKey(user, ""))
		assert.NoError(t, err)
		assert.False(t, found, "cache for %s should be invalidated", user)
	}

	// next read repopulates with the new message
	list, err := f.lists.List(ctx, "cs_bob_7", "", 0, 0)
	assert.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "invalidate us", list[0].LastMessage.Content)
	assert.EqualValues(t, 1, list[0].UnreadCount)
}

func TestMarkConversationRead(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, _ := f.svc.CreateConversation(ctx, "cs_alice_8", nil, models.ConversationDirect, []string{"cs_bob_8"})
	_, _, err := f.svc.SendMessage(ctx, "cs_alice_8", conv.ID, "read me")
	assert.NoError(t, err)

	_, err = f.svc.MarkConversationRead(ctx, "cs_mallory_8", conv.ID, nil)
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	readAt, err := f.svc.MarkConversationRead(ctx, "cs_bob_8", conv.ID, nil)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now(), readAt, time.Second)

	unread, err := f.svc.store.UnreadCount(ctx, conv.ID, "cs_bob_8")
	assert.NoError(t, err)
	assert.EqualValues(t, 0, unread)
}

func TestEditMessage_Rules(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conv, _, _ := f.svc.CreateConversation(ctx, "cs_alice_9", nil, models.ConversationDirect, []string{"cs_bob_9"})
	msg, _, err := f.svc.SendMessage(ctx, "cs_alice_9", conv.ID, "original")
	assert.NoError(t, err)

	_, err = f.svc.EditMessage(ctx, "cs_bob_9", msg.ID, "hijacked")
	assert.ErrorIs(t, err, models.ErrNotMessageSender)

	edited, err := f.svc.EditMessage(ctx, "cs_alice_9", msg.ID, "fixed typo")
	assert.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "fixed typo", edited.Content)

	// push the message outside the edit window
	expired := time.Now().Add(-models.EditWindow - time.Minute)
	err = f.db.Model(&models.Message{}).Where("id = ?", msg.ID).Update("created_at", expired).Error
	assert.NoError(t, err)

	_, err = f.svc.EditMessage(ctx, "cs_alice_9", msg.ID, "too late")
	assert.ErrorIs(t, err, models.ErrEditWindowExpired)

	// content unchanged after the failed edit
	current, err := f.svc.store.FindMessage(ctx, msg.ID)
	assert.NoError(t, err)
	assert.Equal(t, "fixed typo", current.Content)
}

func TestGroupMembershipUseCases(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	name := "team ten"
	conv, _, err := f.svc.CreateConversation(ctx, "cs_alice_10", &name, models.ConversationGroup, []string{"cs_bob_10", "cs_carol_10"})
	assert.NoError(t, err)

	got, err := f.svc.AddParticipant(ctx, conv.ID, "cs_dave_10", "cs_alice_10")
	assert.NoError(t, err)
	assert.True(t, got.IsParticipant("cs_dave_10"))

	got, err = f.svc.RemoveParticipant(ctx, conv.ID, "cs_dave_10", "cs_bob_10")
	assert.NoError(t, err)
	assert.False(t, got.IsParticipant("cs_dave_10"))

	got, err = f.svc.RenameConversation(ctx, conv.ID, "renamed ten", "cs_alice_10")
	assert.NoError(t, err)
	assert.Equal(t, "renamed ten", *got.Name)

	got, err = f.svc.ArchiveConversation(ctx, conv.ID, "cs_alice_10")
	assert.NoError(t, err)
	assert.False(t, got.IsActive)

	_, _, err = f.svc.SendMessage(ctx, "cs_alice_10", conv.ID, "into the void")
	assert.ErrorIs(t, err, models.ErrConversationInactive)

	got, err = f.svc.ReactivateConversation(ctx, conv.ID, "cs_bob_10")
	assert.NoError(t, err)
	assert.True(t, got.IsActive)
}
