package router

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"modchat/internal/adapter/api/handler"
	"modchat/internal/adapter/api/middleware"
	"modchat/internal/infrastructure/ratelimit"
)

// SetupConversationRouter sets up the routes of the open conversation
func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter, log zerolog.Logger) {
	conversationHandler := handler.GetConversationHandler()

	group := e.Group("/v1/conversation")
	group.Use(authMiddleware.Authenticate)

	group.POST("", conversationHandler.OpenConversation)
	group.GET("", conversationHandler.GetConversation)
	group.DELETE("", conversationHandler.CloseConversation)
	group.POST("/reconnect", conversationHandler.Reconnect)

	group.POST("/messages", conversationHandler.SendMessage, middleware.RateLimit(limiter, "send_message", log))
	group.POST("/older", conversationHandler.LoadOlderMessages)
	group.POST("/refresh", conversationHandler.RefreshMessages, middleware.RateLimit(limiter, "refresh", log))

	group.PUT("/read", conversationHandler.MarkAllAsRead)
	group.PUT("/messages/:id/read", conversationHandler.MarkMessageAsRead)
}
