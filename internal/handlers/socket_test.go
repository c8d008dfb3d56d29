package handlers

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"

	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wavechat/wavechat-backend/internal/cache"
	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/queue"
	"github.com/wavechat/wavechat-backend/internal/realtime"
	"github.com/wavechat/wavechat-backend/internal/services"
	"github.com/wavechat/wavechat-backend/internal/store"
)

type stubConn struct {
	id  string
	ctx interface{}

	mu     sync.Mutex
	events []stubEvent
}

type stubEvent struct {
	name    string
	payload interface{}
}

func (c *stubConn) Close() error              { return nil }
func (c *stubConn) Namespace() string         { return Namespace }
func (c *stubConn) Join(string)               {}
func (c *stubConn) Leave(string)              {}
func (c *stubConn) LeaveAll()                 {}
func (c *stubConn) Rooms() []string           { return nil }
func (c *stubConn) Context() interface{}      { return c.ctx }
func (c *stubConn) SetContext(v interface{})  { c.ctx = v }
func (c *stubConn) ID() string                { return c.id }
func (c *stubConn) URL() url.URL              { return url.URL{} }
func (c *stubConn) LocalAddr() net.Addr       { return nil }
func (c *stubConn) RemoteAddr() net.Addr      { return nil }
func (c *stubConn) RemoteHeader() http.Header { return nil }

func (c *stubConn) Emit(event string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var payload interface{}
	if len(args) > 0 {
		payload = args[0]
	}
	c.events = append(c.events, stubEvent{name: event, payload: payload})
}

func (c *stubConn) eventNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.events))
	for _, e := range c.events {
		names = append(names, e.name)
	}
	return names
}

// lastErrorCode returns the code of the most recent error event, if any.
func (c *stubConn) lastErrorCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].name != "error" {
			continue
		}
		if m, ok := c.events[i].payload.(map[string]interface{}); ok {
			code, _ := m["code"].(string)
			return code
		}
	}
	return ""
}

func (c *stubConn) payloadOf(event string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.name == event {
			return e.payload
		}
	}
	return nil
}

type stubRoomServer struct {
	rooms map[string][]*stubConn
}

func (s *stubRoomServer) ForEach(_ string, room string, f socketio.EachFunc) bool {
	for _, conn := range s.rooms[room] {
		f(conn)
	}
	return true
}

type gatewayFixture struct {
	g      *SocketGateway
	chat   *services.ChatService
	typing *services.TypingService
	rooms  *stubRoomServer
}

func setupGateway(t *testing.T) *gatewayFixture {
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

	s := store.NewConversationStore(db)
	mem := cache.NewMemoryStore()
	typing := services.NewTypingService(mem)
	presence := services.NewMemoryPresence()
	q := queue.NewMemoryQueue(16)
	lists := services.NewConversationListService(s, mem, zerolog.Nop())
	chat := services.NewChatService(s, lists, typing, presence, q, zerolog.Nop())

	rooms := &stubRoomServer{rooms: map[string][]*stubConn{}}
	bc := realtime.NewBroadcaster(rooms, nil, "test:broadcast", Namespace, zerolog.Nop())
	g := NewSocketGateway(NewSocketServer(), chat, typing, presence, bc, zerolog.Nop())

	return &gatewayFixture{g: g, chat: chat, typing: typing, rooms: rooms}
}

func authedConn(id, userID string) *stubConn {
	c := &stubConn{id: id}
	c.SetContext(principal{UserID: userID})
	return c
}

func TestSendMessage_ErrorCodes(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	conv, _, err := f.chat.CreateConversation(ctx, "gw_alice_1", nil, models.ConversationDirect, []string{"gw_bob_1"})
	assert.NoError(t, err)

	// unknown conversation
	sender := authedConn("g1", "gw_alice_1")
	f.g.onSendMessage(sender, map[string]interface{}{"conversationId": "missing", "content": "hi"})
	assert.Equal(t, CodeNotFound, sender.lastErrorCode())

	// outsider
	intruder := authedConn("g2", "gw_intruder_1")
	f.g.onSendMessage(intruder, map[string]interface{}{"conversationId": conv.ID, "content": "hi"})
	assert.Equal(t, CodeForbidden, intruder.lastErrorCode())

	// blank content
	sender2 := authedConn("g3", "gw_alice_1")
	f.g.onSendMessage(sender2, map[string]interface{}{"conversationId": conv.ID, "content": "   "})
	assert.Equal(t, CodeMessageFailed, sender2.lastErrorCode())
}

func TestSendMessage_BroadcastsAndAcks(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	conv, _, err := f.chat.CreateConversation(ctx, "gw_alice_2", nil, models.ConversationDirect, []string{"gw_bob_2"})
	assert.NoError(t, err)

	sender := authedConn("g1", "gw_alice_2")
	recipient := authedConn("g2", "gw_bob_2")
	f.rooms.rooms[conv.ID] = []*stubConn{sender, recipient}

	f.g.onSendMessage(sender, map[string]interface{}{"conversationId": conv.ID, "content": "hello"})

	assert.Contains(t, recipient.eventNames(), "conversation:updated")
	assert.Contains(t, recipient.eventNames(), "message:received")
	assert.Contains(t, sender.eventNames(), "message:sent")

	// broadcast payload crosses the wire as JSON; delivered flag is set at
	// emission time
	received, ok := recipient.payloadOf("message:received").(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "hello", received["content"])
	assert.Equal(t, true, received["isDelivered"])
}

func TestTypingStart_Authorization(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	conv, _, err := f.chat.CreateConversation(ctx, "gw_alice_3", nil, models.ConversationDirect, []string{"gw_bob_3"})
	assert.NoError(t, err)

	sender := authedConn("g1", "gw_alice_3")
	recipient := authedConn("g2", "gw_bob_3")
	f.rooms.rooms[conv.ID] = []*stubConn{sender, recipient}

	// outsiders get FORBIDDEN and nothing is broadcast
	intruder := authedConn("g3", "gw_intruder_3")
	f.g.onTypingStart(intruder, map[string]interface{}{"conversationId": conv.ID})
	assert.Equal(t, CodeForbidden, intruder.lastErrorCode())
	assert.Empty(t, recipient.eventNames())

	// a participant sets the indicator; the broadcast skips the sender
	f.g.onTypingStart(sender, map[string]interface{}{"conversationId": conv.ID})

	typing, err := f.typing.IsTyping(ctx, conv.ID, "gw_alice_3")
	assert.NoError(t, err)
	assert.True(t, typing)
	assert.Contains(t, recipient.eventNames(), "typing:indicator")
	assert.NotContains(t, sender.eventNames(), "typing:indicator")

	f.g.onTypingStart(sender, map[string]interface{}{"conversationId": "missing"})
	assert.Equal(t, CodeNotFound, sender.lastErrorCode())
}

func TestMessagesRead_RequiresMembership(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	conv, _, err := f.chat.CreateConversation(ctx, "gw_alice_4", nil, models.ConversationDirect, []string{"gw_bob_4"})
	assert.NoError(t, err)

	intruder := authedConn("g1", "gw_intruder_4")
	f.g.onMessagesRead(intruder, map[string]interface{}{"conversationId": conv.ID})
	assert.Equal(t, CodeForbidden, intruder.lastErrorCode())

	reader := authedConn("g2", "gw_bob_4")
	f.rooms.rooms[conv.ID] = []*stubConn{reader}
	f.g.onMessagesRead(reader, map[string]interface{}{"conversationId": conv.ID})
	assert.Empty(t, reader.lastErrorCode())
	assert.Contains(t, reader.eventNames(), "message:status_changed")
}

// A panicking event handler must not take down the connection: the wrapper
// recovers and surfaces a generic error event instead.
func TestEventHandlerPanicIsolation(t *testing.T) {
	f := setupGateway(t)

	h := f.g.wrap("exploding_event", func(socketio.Conn, map[string]interface{}) {
		panic("boom")
	})

	conn := authedConn("g1", "gw_alice_5")
	assert.NotPanics(t, func() {
		h(conn, map[string]interface{}{})
	})
	assert.Equal(t, CodeConnectionError, conn.lastErrorCode())
}
