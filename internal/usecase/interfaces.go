package usecase

import (
	"time"

	"modchat/internal/domain/entity"
	ws "modchat/internal/infrastructure/websocket"
)

// LiveConnection is the keyed connection manager as the usecases use it.
type LiveConnection interface {
	Connect(cfg ws.Config, l *ws.Listeners)
	Disconnect(url string, l *ws.Listeners)
	Send(url string, data []byte) error
	Status(url string) ws.Status
	Reconnect(url string)
}

// RosterNotifier is how a single conversation reports into the roster.
type RosterNotifier interface {
	UpdateChatLastMessage(identity entity.ConversationIdentity, preview string, at time.Time)
	ZeroUnread(identity entity.ConversationIdentity)
}

// DeliverySink receives the outcome of request-based delivery.
type DeliverySink interface {
	AppendLocal(msg entity.Message)
	SetConnectionError(message string)
}
