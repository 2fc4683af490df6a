// Package auth issues and verifies the API's bearer tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/rufuslabs/wappgate/internal/users"
)

// Claims is the token payload.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs API tokens.
type Issuer struct {
	secret    []byte
	expiresIn time.Duration
}

// NewIssuer creates a token issuer.
func NewIssuer(secret string, expiresIn time.Duration) *Issuer {
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), expiresIn: expiresIn}
}

// Issue signs a token for the given account.
func (i *Issuer) Issue(user users.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Middleware returns the echo JWT middleware. skip lists path prefixes
// that stay public.
func (i *Issuer) Middleware(skip ...string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: i.secret,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			for _, prefix := range skip {
				if path == prefix {
					return true
				}
			}
			return false
		},
	})
}

// FromContext extracts the verified claims set by the middleware.
func FromContext(c echo.Context) (*Claims, bool) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	return claims, ok
}
