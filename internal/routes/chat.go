package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/wavechat/wavechat-backend/internal/handlers"
	"github.com/wavechat/wavechat-backend/internal/middleware"
)

func RegisterChatRoutes(r gin.IRouter, h *handlers.ConversationHandler) {
	conversations := r.Group("/conversations")
	conversations.Use(middleware.AuthMiddleware())
	{
		conversations.POST("", h.CreateConversation)
		conversations.GET("", h.ListConversations)
		conversations.GET("/:id/messages", h.GetMessages)
		conversations.PATCH("/:id", h.RenameConversation)
		conversations.POST("/:id/archive", h.ArchiveConversation)
		conversations.POST("/:id/reactivate", h.ReactivateConversation)
		conversations.POST("/:id/participants", h.AddParticipant)
		conversations.DELETE("/:id/participants/:userId", h.RemoveParticipant)
		conversations.POST("/:id/read", h.MarkRead)
	}

	messages := r.Group("/messages")
	messages.Use(middleware.AuthMiddleware())
	{
		messages.PATCH("/:id", middleware.MessageRateLimit(), h.EditMessage)
		messages.GET("/search", h.SearchMessages)
	}
}
