package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"modchat/internal/domain/entity"
	"modchat/internal/usecase"
	"modchat/pkg/errors"
	"modchat/pkg/response"
	"modchat/pkg/utils"
)

// ChatHandler exposes the roster.
type ChatHandler struct {
	roster *usecase.RosterUseCase
}

func NewChatHandler(roster *usecase.RosterUseCase) *ChatHandler {
	return &ChatHandler{
		roster: roster,
	}
}

// GetActiveChats returns the roster, most recently active first.
func (h *ChatHandler) GetActiveChats(c echo.Context) error {
	chats := h.roster.ActiveChats()
	params := utils.GetPaginationParams(c)
	start, end := params.Window(len(chats))
	return response.Paginated(c, chats[start:end], int64(len(chats)), params.Page, params.PageSize)
}

// RefreshChats pulls the roster from the backend right away.
func (h *ChatHandler) RefreshChats(c echo.Context) error {
	if err := h.roster.RefreshActiveChats(c.Request().Context()); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, h.roster.ActiveChats())
}

// MarkChatAsRead zeroes the entry's unread count. With debounce=true the
// backend call of a burst is collapsed into one.
func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	chatID := c.Param("id")
	var userID int64
	if raw := c.QueryParam("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return response.Error(c, errors.BadRequest("user_id must be a positive integer", err))
		}
		userID = id
	}

	identity := entity.NewConversationIdentity(chatID, userID)
	entry, ok := h.roster.Lookup(identity)
	if !ok {
		return response.Error(c, errors.NotFound("Chat", nil))
	}
	if userID == 0 {
		identity = entity.NewConversationIdentity(entry.EntryID, entry.CounterpartyUserID)
	}

	if debounce, _ := strconv.ParseBool(c.QueryParam("debounce")); debounce {
		h.roster.MarkChatAsReadDebounced(identity)
	} else {
		h.roster.MarkChatAsRead(identity)
	}
	return response.Success(c, map[string]string{"status": "read"})
}

func (h *ChatHandler) GetPlayers(c echo.Context) error {
	return response.Success(c, h.roster.AllPlayers())
}

func (h *ChatHandler) GetOnlinePlayers(c echo.Context) error {
	return response.Success(c, h.roster.OnlineUsers())
}
