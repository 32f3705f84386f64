package handler

import (
	"modchat/internal/usecase"
	ws "modchat/internal/infrastructure/websocket"
)

var (
	healthHandler       *HealthHandler
	chatHandler         *ChatHandler
	conversationHandler *ConversationHandler
	webSocketHandler    *WebSocketHandler
)

// Setup builds every handler of the presentation facade.
func Setup(session *usecase.ModeratorSession, conn usecase.LiveConnection, rosterURL string, hub *ws.Hub) {
	healthHandler = NewHealthHandler(conn, rosterURL, session.Roster())
	chatHandler = NewChatHandler(session.Roster())
	conversationHandler = NewConversationHandler(session)
	webSocketHandler = NewWebSocketHandler(hub)
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
