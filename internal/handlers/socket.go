package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/realtime"
	"github.com/wavechat/wavechat-backend/internal/services"
	"github.com/wavechat/wavechat-backend/pkg/utils"
)

// Namespace scopes every conversation event on the socket.
const Namespace = "/conversations"

// Error codes emitted to clients as error events, never as protocol
// failures. Unexpected faults map to the generic *_FAILED variants; detail
// stays in the server log.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeMessageFailed   = "MESSAGE_FAILED"
	CodeTypingFailed    = "TYPING_FAILED"
	CodeConnectionError = "CONNECTION_ERROR"
)

// principal is the authenticated identity stored in the socket context.
type principal struct {
	UserID string
	Email  string
}

// NewSocketServer builds the socket.io server with websocket and polling
// transports.
func NewSocketServer() *socketio.Server {
	return socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
		},
	})
}

// SocketGateway owns the connection lifecycle and the event protocol. Every
// room emission goes through the broadcaster so all instances deliver.
type SocketGateway struct {
	server      *socketio.Server
	chat        *services.ChatService
	typing      *services.TypingService
	presence    services.Presence
	broadcaster *realtime.Broadcaster
	log         zerolog.Logger
}

func NewSocketGateway(
	server *socketio.Server,
	chat *services.ChatService,
	typing *services.TypingService,
	presence services.Presence,
	broadcaster *realtime.Broadcaster,
	log zerolog.Logger,
) *SocketGateway {
	g := &SocketGateway{
		server:      server,
		chat:        chat,
		typing:      typing,
		presence:    presence,
		broadcaster: broadcaster,
		log:         log,
	}
	g.register()
	return g
}

func (g *SocketGateway) register() {
	g.server.OnConnect(Namespace, g.onConnect)
	g.server.OnEvent(Namespace, "join_conversation", g.wrap("join_conversation", g.onJoinConversation))
	g.server.OnEvent(Namespace, "leave_conversation", g.wrap("leave_conversation", g.onLeaveConversation))
	g.server.OnEvent(Namespace, "message:send", g.wrap("message:send", g.onSendMessage))
	g.server.OnEvent(Namespace, "typing:start", g.wrap("typing:start", g.onTypingStart))
	g.server.OnEvent(Namespace, "typing:stop", g.wrap("typing:stop", g.onTypingStop))
	g.server.OnEvent(Namespace, "messages:read", g.wrap("messages:read", g.onMessagesRead))
	g.server.OnEvent(Namespace, "message_read", g.wrap("message_read", g.onMessageRead))
	g.server.OnDisconnect(Namespace, g.onDisconnect)
	g.server.OnError(Namespace, func(s socketio.Conn, e error) {
		g.log.Error().Err(e).Msg("socket error")
	})
}

// wrap isolates each event handler: a panic or failure in one event must
// never terminate the connection.
func (g *SocketGateway) wrap(name string, h func(socketio.Conn, map[string]interface{})) func(socketio.Conn, map[string]interface{}) {
	return func(s socketio.Conn, data map[string]interface{}) {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error().
					Str("event", name).
					Interface("panic", r).
					Msg("panic in socket event handler")
				g.emitError(s, CodeConnectionError, "Internal error")
			}
		}()
		h(s, data)
	}
}

// onConnect authenticates from the handshake query, joins the personal room
// plus one room per conversation, and acknowledges with the joined rooms.
// Any bootstrap failure emits a structured error and drops the connection.
func (g *SocketGateway) onConnect(s socketio.Conn) error {
	url := s.URL()
	token := url.Query().Get("token")
	if token == "" {
		token = url.Query().Get("auth_token")
	}
	if token == "" {
		g.log.Warn().Str("socket", s.ID()).Msg("socket connection rejected: no token provided")
		return fmt.Errorf("authentication required")
	}

	claims, err := utils.ValidateToken(token)
	if err != nil {
		g.log.Warn().Str("socket", s.ID()).Msg("socket connection rejected: invalid token")
		return fmt.Errorf("invalid token")
	}

	p := principal{UserID: claims.UserID, Email: claims.Email}
	s.SetContext(p)

	ctx := context.Background()
	if err := g.presence.Connect(ctx, p.UserID); err != nil {
		g.log.Warn().Err(err).Str("user", p.UserID).Msg("presence connect failed")
	}

	// Personal room first, then every conversation the user is in.
	s.Join(p.UserID)
	rooms := []string{p.UserID}

	conversationIDs, err := g.chat.ConversationsOf(ctx, p.UserID)
	if err != nil {
		g.log.Error().Err(err).Str("user", p.UserID).Msg("connection bootstrap failed")
		g.emitError(s, CodeConnectionError, "Failed to join conversations")
		s.Close()
		return err
	}
	for _, id := range conversationIDs {
		s.Join(id)
		rooms = append(rooms, id)
	}

	s.Emit("connected", map[string]interface{}{
		"userId": p.UserID,
		"rooms":  rooms,
	})
	g.log.Info().Str("user", p.UserID).Int("rooms", len(rooms)).Msg("socket authenticated")
	return nil
}

// Room joins are unauthenticated beyond the connection itself; authorization
// happens at send time.
func (g *SocketGateway) onJoinConversation(s socketio.Conn, data map[string]interface{}) {
	conversationID, _ := data["conversationId"].(string)
	if conversationID == "" {
		return
	}
	s.Join(conversationID)
	s.Emit("conversation_joined", map[string]interface{}{
		"conversationId": conversationID,
		"room":           conversationID,
	})
}

func (g *SocketGateway) onLeaveConversation(s socketio.Conn, data map[string]interface{}) {
	conversationID, _ := data["conversationId"].(string)
	if conversationID == "" {
		return
	}
	s.Leave(conversationID)
	s.Emit("conversation_left", map[string]interface{}{
		"conversationId": conversationID,
		"room":           conversationID,
	})
}

func (g *SocketGateway) onSendMessage(s socketio.Conn, data map[string]interface{}) {
	p, ok := g.principal(s)
	if !ok {
		return
	}
	conversationID, _ := data["conversationId"].(string)
	content, _ := data["content"].(string)

	msg, _, err := g.chat.SendMessage(context.Background(), p.UserID, conversationID, content)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			g.emitError(s, CodeNotFound, "Conversation not found")
		case errors.Is(err, models.ErrNotParticipant), errors.Is(err, models.ErrConversationInactive):
			g.emitError(s, CodeForbidden, "You are not allowed to send messages to this conversation")
		case errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong):
			g.emitError(s, CodeMessageFailed, err.Error())
		default:
			g.log.Error().Err(err).Str("conversation", conversationID).Str("user", p.UserID).Msg("message send failed")
			g.emitError(s, CodeMessageFailed, "Failed to send message")
		}
		return
	}

	// Delivered is flagged at emission time; the row keeps its own state.
	out := *msg
	out.MarkDelivered()

	g.broadcaster.EmitToRoom(conversationID, "conversation:updated", map[string]interface{}{
		"conversationId": conversationID,
		"timestamp":      msg.CreatedAt,
	})
	g.broadcaster.EmitToRoom(conversationID, "message:received", out)

	s.Emit("message:sent", map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": conversationID,
		"createdAt":      msg.CreatedAt,
	})
}

func (g *SocketGateway) onTypingStart(s socketio.Conn, data map[string]interface{}) {
	p, ok := g.principal(s)
	if !ok {
		return
	}
	conversationID, _ := data["conversationId"].(string)
	ctx := context.Background()

	conv, err := g.chat.Conversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			g.emitError(s, CodeNotFound, "Conversation not found")
		} else {
			g.log.Error().Err(err).Str("conversation", conversationID).Msg("typing start lookup failed")
			g.emitError(s, CodeTypingFailed, "Failed to update typing status")
		}
		return
	}
	if !conv.IsParticipant(p.UserID) {
		g.emitError(s, CodeForbidden, "You are not a participant of this conversation")
		return
	}

	if err := g.typing.Start(ctx, conversationID, p.UserID); err != nil {
		g.log.Warn().Err(err).Str("conversation", conversationID).Str("user", p.UserID).Msg("typing indicator write failed")
		g.emitError(s, CodeTypingFailed, "Failed to update typing status")
		return
	}

	g.broadcaster.EmitToRoomExcept(conversationID, s.ID(), "typing:indicator", map[string]interface{}{
		"conversationId": conversationID,
		"userId":         p.UserID,
		"isTyping":       true,
	})
}

// typing:stop is unconditional: clearing an indicator needs no membership.
func (g *SocketGateway) onTypingStop(s socketio.Conn, data map[string]interface{}) {
	p, ok := g.principal(s)
	if !ok {
		return
	}
	conversationID, _ := data["conversationId"].(string)
	if conversationID == "" {
		return
	}

	if err := g.typing.Stop(context.Background(), conversationID, p.UserID); err != nil {
		g.log.Warn().Err(err).Str("conversation", conversationID).Str("user", p.UserID).Msg("typing indicator clear failed")
	}

	g.broadcaster.EmitToRoomExcept(conversationID, s.ID(), "typing:indicator", map[string]interface{}{
		"conversationId": conversationID,
		"userId":         p.UserID,
		"isTyping":       false,
	})
}

func (g *SocketGateway) onMessagesRead(s socketio.Conn, data map[string]interface{}) {
	p, ok := g.principal(s)
	if !ok {
		return
	}
	conversationID, _ := data["conversationId"].(string)

	var lastReadAt *time.Time
	if raw, ok := data["lastReadAt"].(string); ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			lastReadAt = &t
		}
	}

	readAt, err := g.chat.MarkConversationRead(context.Background(), p.UserID, conversationID, lastReadAt)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			g.emitError(s, CodeNotFound, "Conversation not found")
		case errors.Is(err, models.ErrNotParticipant):
			g.emitError(s, CodeForbidden, "You are not a participant of this conversation")
		default:
			g.log.Error().Err(err).Str("conversation", conversationID).Str("user", p.UserID).Msg("mark read failed")
			g.emitError(s, CodeMessageFailed, "Failed to mark messages as read")
		}
		return
	}

	g.broadcaster.EmitToRoom(conversationID, "message:status_changed", map[string]interface{}{
		"conversationId": conversationID,
		"userId":         p.UserID,
		"status":         "read",
		"timestamp":      readAt,
	})
}

// message_read is a per-message receipt: pure broadcast, no persistence.
func (g *SocketGateway) onMessageRead(s socketio.Conn, data map[string]interface{}) {
	p, ok := g.principal(s)
	if !ok {
		return
	}
	conversationID, _ := data["conversationId"].(string)
	messageID, _ := data["messageId"].(string)
	if conversationID == "" || messageID == "" {
		return
	}

	g.broadcaster.EmitToRoom(conversationID, "message_read_receipt", map[string]interface{}{
		"conversationId": conversationID,
		"messageId":      messageID,
		"readBy":         p.UserID,
		"readAt":         time.Now(),
	})
}

// onDisconnect clears the user's typing indicators best-effort and releases
// presence. Cleanup errors are logged, never re-raised.
func (g *SocketGateway) onDisconnect(s socketio.Conn, reason string) {
	p, ok := g.principal(s)
	if !ok {
		return
	}
	ctx := context.Background()

	conversationIDs, err := g.chat.ConversationsOf(ctx, p.UserID)
	if err != nil {
		g.log.Warn().Err(err).Str("user", p.UserID).Msg("disconnect cleanup lookup failed")
	}
	for _, id := range conversationIDs {
		if err := g.typing.Stop(ctx, id, p.UserID); err != nil {
			g.log.Warn().Err(err).Str("conversation", id).Str("user", p.UserID).Msg("typing cleanup failed")
		}
	}

	if err := g.presence.Disconnect(ctx, p.UserID); err != nil {
		g.log.Warn().Err(err).Str("user", p.UserID).Msg("presence disconnect failed")
	}

	g.log.Info().Str("user", p.UserID).Str("reason", reason).Msg("socket disconnected")
}

func (g *SocketGateway) principal(s socketio.Conn) (principal, bool) {
	p, ok := s.Context().(principal)
	return p, ok
}

func (g *SocketGateway) emitError(s socketio.Conn, code, message string) {
	s.Emit("error", map[string]interface{}{
		"code":      code,
		"message":   message,
		"timestamp": time.Now(),
	})
}

// SocketHandler wraps the socket.io server for gin.
func SocketHandler(server *socketio.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		server.ServeHTTP(c.Writer, c.Request)
	}
}
