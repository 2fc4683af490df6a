package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// MessagesHandler serves outbound message sends.
type MessagesHandler struct {
	messages *whatsapp.Messages
	logger   *slog.Logger
}

// SendMessageRequest is the body for POST /messages/send.
type SendMessageRequest struct {
	SessionID string `json:"session_id"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// NewMessagesHandler creates the messages handler.
func NewMessagesHandler(log *slog.Logger, messages *whatsapp.Messages) *MessagesHandler {
	return &MessagesHandler{
		messages: messages,
		logger:   log.With(slog.String("handler", "messages")),
	}
}

// Register mounts POST /messages/send.
func (h *MessagesHandler) Register(e *echo.Echo) {
	e.POST("/messages/send", h.Send)
}

// Send delivers a text message through a live session.
func (h *MessagesHandler) Send(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.To) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and to are required")
	}

	receipt, err := h.messages.Send(c.Request().Context(), req.SessionID, req.To, req.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, receipt)
}
