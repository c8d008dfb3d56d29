package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/services"
	"github.com/wavechat/wavechat-backend/internal/store"
)

// ConversationHandler serves the REST surface of the messaging domain. The
// socket gateway is the primary transport; these endpoints exist for initial
// page loads, history pagination and clients without a socket.
type ConversationHandler struct {
	chat  *services.ChatService
	lists *services.ConversationListService
	store *store.ConversationStore
}

func NewConversationHandler(chat *services.ChatService, lists *services.ConversationListService, s *store.ConversationStore) *ConversationHandler {
	return &ConversationHandler{chat: chat, lists: lists, store: s}
}

// CreateConversation creates a DIRECT or GROUP conversation. Creating a
// DIRECT pair that already exists returns the existing conversation with 200
// instead of 201.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		Name           *string  `json:"name"`
		Type           string   `json:"type" binding:"required"`
		ParticipantIDs []string `json:"participantIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctype := models.ConversationType(req.Type)
	if ctype != models.ConversationDirect && ctype != models.ConversationGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be DIRECT or GROUP"})
		return
	}

	conv, created, err := h.chat.CreateConversation(c.Request.Context(), userId, req.Name, ctype, req.ParticipantIDs)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv})
}

// ListConversations returns the caller's enriched conversation list, newest
// activity first. Served from cache when fresh.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	typeFilter := models.ConversationType(c.Query("type"))
	if typeFilter != "" && typeFilter != models.ConversationDirect && typeFilter != models.ConversationGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be DIRECT or GROUP"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	previews, err := h.lists.List(c.Request.Context(), userId, typeFilter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": previews})
}

// GetMessages pages through a conversation's history, newest first.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	conv, err := h.chat.Conversation(c.Request.Context(), conversationID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if !conv.IsParticipant(userId) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a participant of this conversation"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	messages, total, err := h.store.MessagesPage(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// RenameConversation renames a GROUP conversation.
func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	conv, err := h.chat.RenameConversation(c.Request.Context(), c.Param("id"), req.Name, userId)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) ArchiveConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	conv, err := h.chat.ArchiveConversation(c.Request.Context(), c.Param("id"), userId)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) ReactivateConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	conv, err := h.chat.ReactivateConversation(c.Request.Context(), c.Param("id"), userId)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// AddParticipant adds a user to a GROUP conversation, or re-activates a
// previously removed membership.
func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	conv, err := h.chat.AddParticipant(c.Request.Context(), c.Param("id"), req.UserID, userId)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	conv, err := h.chat.RemoveParticipant(c.Request.Context(), c.Param("id"), c.Param("userId"), userId)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// MarkRead moves the caller's read marker. Accepts an optional lastReadAt;
// defaults to now.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		LastReadAt *time.Time `json:"lastReadAt"`
	}
	// body is optional
	_ = c.ShouldBindJSON(&req)

	readAt, err := h.chat.MarkConversationRead(c.Request.Context(), userId, c.Param("id"), req.LastReadAt)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"readAt": readAt})
}

// EditMessage rewrites a message's content. Sender-only, inside the edit
// window.
func (h *ConversationHandler) EditMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := h.chat.EditMessage(c.Request.Context(), userId, c.Param("id"), req.Content)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// SearchMessages full-text searches the caller's conversations.
func (h *ConversationHandler) SearchMessages(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	messages, err := h.store.SearchMessages(c.Request.Context(), userId, query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// respondDomainError maps aggregate rule violations onto HTTP statuses. The
// default branch hides storage detail behind a 500.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, models.ErrNotParticipant),
		errors.Is(err, models.ErrNotMessageSender):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrAlreadyParticipant):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidParticipantCount),
		errors.Is(err, models.ErrGroupNameRequired),
		errors.Is(err, models.ErrConversationInactive),
		errors.Is(err, models.ErrCannotModifyDirectMembership),
		errors.Is(err, models.ErrCannotRenameDirect),
		errors.Is(err, models.ErrMinimumParticipants),
		errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrMessageTooLong),
		errors.Is(err, models.ErrEditWindowExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
