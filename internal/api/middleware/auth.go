package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"charity-service/internal/models"
	"charity-service/internal/repositories"
	"charity-service/internal/ws"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID  = "user_id"
	ContextProfile = "user"
)

type TokenParser interface {
	ParseToken(tokenString string) (*ws.Claims, error)
}

type UserLoader interface {
	FindByID(ctx context.Context, userID string) (*models.User, error)
}

type AuthMiddleware struct {
	tokens TokenParser
	users  UserLoader
}

func NewAuthMiddleware(tokens TokenParser, users UserLoader) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			abortUnauthorized(c, "Access denied. No token provided.")
			return
		}

		claims, err := am.tokens.ParseToken(strings.TrimSpace(tokenString))
		if err != nil {
			if ws.FailureReason(err) == ws.ReasonExpiredCredential {
				abortUnauthorized(c, "Token expired.")
				return
			}
			abortUnauthorized(c, "Invalid token.")
			return
		}

		user, err := am.users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				abortUnauthorized(c, "Invalid token. User not found.")
				return
			}
			slog.Error("Failed to load authenticated user", "userID", claims.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.NewErrorResponse(http.StatusInternalServerError, "Internal server error"))
			return
		}
		if !user.IsActive {
			abortUnauthorized(c, "Account is deactivated.")
			return
		}

		c.Set(ContextUserID, user.ID.Hex())
		c.Set(ContextProfile, user.Summary())
		c.Next()
	}
}

// UserID returns the id set by RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewErrorResponse(http.StatusUnauthorized, message))
}
