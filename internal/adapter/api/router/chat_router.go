package router

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"modchat/internal/adapter/api/handler"
	"modchat/internal/adapter/api/middleware"
	"modchat/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the roster routes
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter, log zerolog.Logger) {
	chatHandler := handler.GetChatHandler()

	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.GET("", chatHandler.GetActiveChats) // GET /v1/chats?page&limit
	chatGroup.POST("/refresh", chatHandler.RefreshChats, middleware.RateLimit(limiter, "refresh", log))
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead) // PUT /v1/chats/:id/read?debounce=true

	playerGroup := e.Group("/v1/players")
	playerGroup.Use(authMiddleware.Authenticate)

	playerGroup.GET("", chatHandler.GetPlayers)
	playerGroup.GET("/online", chatHandler.GetOnlinePlayers)
}
