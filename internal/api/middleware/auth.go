package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const actorKeyContextKey = "actor_key"

// ActorHeader lets an authenticated caller name the actor a sync runs for
const ActorHeader = "X-Actor-Key"

// AuthMiddleware checks the bearer token against the configured bcrypt hash.
// An empty hash disables authentication.
func AuthMiddleware(keyHash string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash != "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
				c.Abort()
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				c.Abort()
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(parts[1])); err != nil {
				logger.Warn("Authentication failed", zap.String("path", c.Request.URL.Path))
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
				c.Abort()
				return
			}
		}

		actor := c.GetHeader(ActorHeader)
		if actor == "" {
			actor = "api"
		}
		c.Set(actorKeyContextKey, actor)
		c.Next()
	}
}

// GetActorKey returns the actor set by AuthMiddleware
func GetActorKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(actorKeyContextKey)
	if !ok {
		return "", false
	}
	actor, ok := v.(string)
	return actor, ok
}
