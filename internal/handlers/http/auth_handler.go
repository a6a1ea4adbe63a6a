package http

import (
	"net/http"

	"chatty/internal/core/services"
	"chatty/internal/infrastructure/middleware"
	"chatty/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AuthHandler lets a holder of a valid token inspect and renew it. Tokens are
// first issued out of band (see chatty -issue-token).
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.GET("/me", h.Me)
		api.POST("/refresh", h.RefreshToken)
	}
}

func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"username": c.GetString(middleware.UsernameKey),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)
	token, err := h.authService.GenerateToken(username)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"username":     username,
	})
}
