package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rufuslabs/wappgate/internal/tickets"
	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps service sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500 upstream failure.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, whatsapp.ErrInvalidSessionID),
		errors.Is(err, whatsapp.ErrInvalidPhone),
		errors.Is(err, whatsapp.ErrInvalidJID),
		errors.Is(err, whatsapp.ErrEmptyBody):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, whatsapp.ErrSessionNotFound),
		errors.Is(err, whatsapp.ErrCredentialMissing),
		errors.Is(err, tickets.ErrTicketNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, whatsapp.ErrSessionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, whatsapp.ErrStartTimeout):
		return echo.NewHTTPError(http.StatusRequestTimeout, err.Error())
	case errors.Is(err, whatsapp.ErrTargetNotRegistered):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
