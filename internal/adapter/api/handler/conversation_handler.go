package handler

import (
	"github.com/labstack/echo/v4"

	"modchat/internal/domain/entity"
	"modchat/internal/usecase"
	"modchat/pkg/errors"
	"modchat/pkg/response"
)

// ConversationHandler exposes the single open conversation.
type ConversationHandler struct {
	session *usecase.ModeratorSession
}

func NewConversationHandler(session *usecase.ModeratorSession) *ConversationHandler {
	return &ConversationHandler{
		session: session,
	}
}

type openConversationRequest struct {
	ChatID string `json:"chat_id" validate:"required_without=UserID"`
	UserID int64  `json:"user_id" validate:"omitempty,gt=0"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

func (h *ConversationHandler) current() (*usecase.ConversationUseCase, error) {
	conv := h.session.Current()
	if conv == nil {
		return nil, errors.NotFound("Open conversation", nil)
	}
	return conv, nil
}

// OpenConversation replaces the open conversation and loads its newest page.
func (h *ConversationHandler) OpenConversation(c echo.Context) error {
	var req openConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conv, err := h.session.OpenConversation(c.Request().Context(), entity.NewConversationIdentity(req.ChatID, req.UserID))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conv.View())
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conv.View())
}

func (h *ConversationHandler) CloseConversation(c echo.Context) error {
	h.session.CloseConversation()
	return response.Success(c, map[string]string{"status": "closed"})
}

// SendMessage answers 202 when the message waits for the live connection.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}

	if err := conv.SendMessage(c.Request().Context(), req.Text); err != nil {
		return response.Error(c, err)
	}

	view := conv.View()
	if view.PendingOutbound > 0 {
		return response.Accepted(c, view)
	}
	return response.Created(c, view)
}

func (h *ConversationHandler) LoadOlderMessages(c echo.Context) error {
	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}

	result, err := conv.LoadOlderMessages(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, result)
}

func (h *ConversationHandler) RefreshMessages(c echo.Context) error {
	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}

	if err := conv.RefreshMessages(c.Request().Context()); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conv.View())
}

func (h *ConversationHandler) MarkMessageAsRead(c echo.Context) error {
	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}

	if err := conv.MarkAsRead(c.Request().Context(), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"status": "read"})
}

func (h *ConversationHandler) MarkAllAsRead(c echo.Context) error {
	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}

	if err := conv.MarkAllAsRead(c.Request().Context()); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"status": "read"})
}

// Reconnect retries the live connection after it gave up.
func (h *ConversationHandler) Reconnect(c echo.Context) error {
	conv, err := h.current()
	if err != nil {
		return response.Error(c, err)
	}

	conv.Reconnect()
	return response.Success(c, conv.View())
}
