package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ownerKey = "owner_id"

// RequireOwner reads the caller identity from X-Owner-ID. The service
// sits behind a gateway that authenticates and injects the header;
// requests without it are rejected here.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-Owner-ID"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing X-Owner-ID"}})
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid X-Owner-ID"}})
			return
		}
		c.Set(ownerKey, id)
		c.Next()
	}
}

// OwnerID returns the identity set by RequireOwner, uuid.Nil if absent.
func OwnerID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(ownerKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
