package router

import (
	"github.com/labstack/echo/v4"

	"modchat/internal/adapter/api/handler"
	"modchat/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up the UI notification socket. Browsers cannot
// set headers on the upgrade, so the token may come as ?token=.
func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", handler.GetWebSocketHandler().HandleWebSocket, authMiddleware.Authenticate)
}
