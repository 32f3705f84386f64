package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware guards the facade with a static bearer token. An empty
// token disables the check.
type AuthMiddleware struct {
	apiToken string
}

func NewAuthMiddleware(apiToken string) *AuthMiddleware {
	return &AuthMiddleware{
		apiToken: apiToken,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.apiToken == "" {
			return next(c)
		}

		token := c.QueryParam("token")
		if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
			}
			token = parts[1]
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.apiToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set("uid", "moderator")
		return next(c)
	}
}
