package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// SessionsHandler serves the /sessions API.
type SessionsHandler struct {
	sessions *whatsapp.Sessions
	logger   *slog.Logger
}

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	SessionID   string `json:"session_id"`
	PairingMode string `json:"pairing_mode,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// StartSessionResponse answers session creation: either an immediate
// connection or a credential the operator must present to the device.
type StartSessionResponse struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	Credential string `json:"credential,omitempty"`
}

// StatusResponse is the body for GET /sessions/:id/status.
type StatusResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// NewSessionsHandler creates the sessions handler.
func NewSessionsHandler(log *slog.Logger, sessions *whatsapp.Sessions) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		logger:   log.With(slog.String("handler", "sessions")),
	}
}

// Register mounts the /sessions routes.
func (h *SessionsHandler) Register(e *echo.Echo) {
	e.POST("/sessions", h.Create)
	e.GET("/sessions", h.List)
	e.GET("/sessions/:id", h.Get)
	e.DELETE("/sessions/:id", h.Delete)
	e.GET("/sessions/:id/status", h.Status)
	e.GET("/sessions/:id/credential", h.Credential)
}

// Create starts (or resumes) a session and answers with the first
// establishment outcome.
func (h *SessionsHandler) Create(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	mode := whatsapp.PairingQRCode
	if req.PairingMode != "" {
		mode = whatsapp.PairingMode(req.PairingMode)
		if mode != whatsapp.PairingQRCode && mode != whatsapp.PairingPhone {
			return echo.NewHTTPError(http.StatusBadRequest, "pairing_mode must be qrcode or phone")
		}
	}

	result, err := h.sessions.Start(c.Request().Context(), whatsapp.StartRequest{
		SessionID:   req.SessionID,
		PairingMode: mode,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, StartSessionResponse{
		SessionID:  req.SessionID,
		Status:     string(result.Outcome),
		Credential: result.Credential,
	})
}

// List returns all session records with live status.
func (h *SessionsHandler) List(c echo.Context) error {
	sessions, err := h.sessions.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// Get returns one session record.
func (h *SessionsHandler) Get(c echo.Context) error {
	session, err := h.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	status, err := h.sessions.Status(c.Request().Context(), session.SessionID)
	if err == nil {
		session.Status = status
	}
	return c.JSON(http.StatusOK, session)
}

// Status reports the effective connection status.
func (h *SessionsHandler) Status(c echo.Context) error {
	sessionID := c.Param("id")
	if _, err := h.sessions.Get(c.Request().Context(), sessionID); err != nil {
		return httpError(err)
	}
	status, err := h.sessions.Status(c.Request().Context(), sessionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{SessionID: sessionID, Status: string(status)})
}

// Credential returns the pending pairing credential.
func (h *SessionsHandler) Credential(c echo.Context) error {
	result, err := h.sessions.Credential(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, StartSessionResponse{
		SessionID:  c.Param("id"),
		Status:     string(result.Outcome),
		Credential: result.Credential,
	})
}

// Delete releases the connection and removes the record.
func (h *SessionsHandler) Delete(c echo.Context) error {
	if err := h.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
