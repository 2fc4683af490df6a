package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rufuslabs/wappgate/internal/auth"
	"github.com/rufuslabs/wappgate/internal/users"
)

func TestIssueRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := auth.NewIssuer("test-secret", time.Hour)
	token, err := issuer.Issue(users.User{ID: "u1", Username: "alice", Role: users.RoleAdmin})
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(token, &auth.Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(*auth.Claims)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, users.RoleAdmin, claims.Role)
	assert.Equal(t, "u1", claims.Subject)
}

func TestMiddlewareProtectsRoutes(t *testing.T) {
	t.Parallel()

	issuer := auth.NewIssuer("test-secret", time.Hour)
	e := echo.New()
	e.Use(issuer.Middleware("/ping"))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/private", func(c echo.Context) error {
		claims, ok := auth.FromContext(c)
		require.True(t, ok)
		return c.String(http.StatusOK, claims.Username)
	})

	// Public route passes without a token.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Protected route rejects missing tokens.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// And accepts a valid one.
	token, err := issuer.Issue(users.User{ID: "u1", Username: "alice", Role: users.RoleOperator})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}
