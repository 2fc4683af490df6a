// Package handlers provides the HTTP API for the gateway.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rufuslabs/wappgate/internal/auth"
	"github.com/rufuslabs/wappgate/internal/users"
)

// AuthHandler serves /auth/login and issues JWTs.
type AuthHandler struct {
	userService *users.Service
	issuer      *auth.Issuer
	logger      *slog.Logger
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the success body.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(log *slog.Logger, userService *users.Service, issuer *auth.Issuer) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		issuer:      issuer,
		logger:      log.With(slog.String("handler", "auth")),
	}
}

// Register mounts POST /auth/login.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

// Login validates credentials and returns a bearer token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	user, err := h.userService.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	token, err := h.issuer.Issue(user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
	})
}
