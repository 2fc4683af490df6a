package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rufuslabs/wappgate/internal/tickets"
)

// TicketsHandler serves the attendant ticket queue.
type TicketsHandler struct {
	tickets *tickets.Service
	logger  *slog.Logger
}

// NewTicketsHandler creates the tickets handler.
func NewTicketsHandler(log *slog.Logger, ticketService *tickets.Service) *TicketsHandler {
	return &TicketsHandler{
		tickets: ticketService,
		logger:  log.With(slog.String("handler", "tickets")),
	}
}

// Register mounts the /tickets routes.
func (h *TicketsHandler) Register(e *echo.Echo) {
	e.GET("/tickets", h.List)
	e.POST("/tickets/:id/close", h.Close)
}

// List returns tickets, filterable by ?status=OPEN|CLOSED.
func (h *TicketsHandler) List(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", tickets.StatusOpen, tickets.StatusClosed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be OPEN or CLOSED")
	}
	items, err := h.tickets.List(c.Request().Context(), status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// Close marks a ticket closed, ending the handoff from the attendant
// side.
func (h *TicketsHandler) Close(c echo.Context) error {
	ticket, err := h.tickets.Close(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}
