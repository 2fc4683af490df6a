package handlers

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PingHandler serves /ping and /health.
type PingHandler struct {
	pool *pgxpool.Pool
}

// NewPingHandler creates a ping handler.
func NewPingHandler(pool *pgxpool.Pool) *PingHandler {
	return &PingHandler{pool: pool}
}

// Register mounts the liveness endpoints.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.Health)
}

// Ping returns 200 {"status":"ok"}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Health also checks database reachability.
func (h *PingHandler) Health(c echo.Context) error {
	if h.pool != nil {
		if err := h.pool.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unreachable")
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
