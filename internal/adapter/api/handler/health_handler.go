package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	ws "modchat/internal/infrastructure/websocket"
	"modchat/internal/usecase"
)

type rosterState interface {
	LastRefresh() time.Time
}

type HealthHandler struct {
	conn      usecase.LiveConnection
	rosterURL string
	roster    rosterState
}

func NewHealthHandler(conn usecase.LiveConnection, rosterURL string, roster rosterState) *HealthHandler {
	return &HealthHandler{
		conn:      conn,
		rosterURL: rosterURL,
		roster:    roster,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "Server is running",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// CheckLiveHealth reports the roster socket and the age of the last pull.
// It answers 503 until the socket is open.
func (h *HealthHandler) CheckLiveHealth(c echo.Context) error {
	status := h.conn.Status(h.rosterURL)
	body := map[string]interface{}{
		"roster_socket": string(status),
	}
	if last := h.roster.LastRefresh(); !last.IsZero() {
		body["last_refresh"] = last.UTC().Format(time.RFC3339)
	}

	code := http.StatusOK
	if status != ws.StatusOpen {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, body)
}
