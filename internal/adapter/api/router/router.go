package router

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"modchat/internal/adapter/api/middleware"
	"modchat/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter, log zerolog.Logger) {
	SetupHealthRouter(e)
	SetupChatRouter(e, authMiddleware, limiter, log)
	SetupConversationRouter(e, authMiddleware, limiter, log)
	SetupWebSocketRouter(e, authMiddleware)
}
