package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/auth"
	"lazone/api/internal/models"
	"lazone/api/internal/utils"
)

const (
	// ContextKeyUserID holds the key for the account id (utils.SixID) in Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyEmail holds the key for the token email in Gin context.
	ContextKeyEmail = "email"
	// ContextKeyIsAdmin holds the key for admin status in Gin context.
	ContextKeyIsAdmin = "isAdmin"
)

// AccountEnsurer creates the local account row on first sight of a token.
type AccountEnsurer interface {
	EnsureAccount(ctx context.Context, id utils.SixID, email string) (*models.Account, error)
}

// AuthMiddleware creates a Gin middleware for JWT authentication. When
// accounts is set, every authenticated caller gets an account row.
func AuthMiddleware(jwtSecret string, accounts AccountEnsurer, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		userID, err := claims.AccountID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		isAdmin := claims.IsAdmin
		if accounts != nil {
			account, err := accounts.EnsureAccount(c.Request.Context(), userID, claims.Email)
			if err != nil {
				log.WithError(err).WithField("user_id", userID.String()).Error("Failed to load account")
				c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": "Failed to load account"})
				return
			}
			isAdmin = isAdmin || account.IsAdmin
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyIsAdmin, isAdmin)
		c.Next()
	}
}

// AdminMiddleware creates a Gin middleware to check for admin privileges.
// Assumes AuthMiddleware runs first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated account id.
func UserID(c *gin.Context) (utils.SixID, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return utils.SixID{}, false
	}
	id, ok := v.(utils.SixID)
	return id, ok && !id.IsZero()
}
