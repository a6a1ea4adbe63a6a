package middleware

import (
	"net/http"
	"strings"

	"chatty/internal/core/services"
	"chatty/pkg/errors"
	"chatty/pkg/logger"

	"github.com/gin-gonic/gin"
)

const UsernameKey = "username"

// TokenFromRequest reads a bearer token from the Authorization header or, for
// WebSocket upgrades that cannot set headers, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware requires a valid token and stores its username on the context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			abortWithError(c, errors.NewUnauthorizedError("authorization token required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithError(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set(UsernameKey, claims.Username)
		c.Request = c.Request.WithContext(logger.WithUsername(c.Request.Context(), claims.Username))
		c.Next()
	}
}

// OptionalAuthMiddleware binds the username when a valid token is present.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFromRequest(c.Request); token != "" {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(UsernameKey, claims.Username)
				c.Request = c.Request.WithContext(logger.WithUsername(c.Request.Context(), claims.Username))
			}
		}
		c.Next()
	}
}
