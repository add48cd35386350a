package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey returns a middleware that checks the X-Admin-Key header against
// key. key may be a bcrypt hash ("$2a$..."), in which case the header is
// verified against the hash.
// If key is empty all guarded endpoints answer 503 so the server cannot be
// deployed without protection by accident.
func AdminKey(key string) gin.HandlerFunc {
	hashed := strings.HasPrefix(key, "$2")
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		got := c.GetHeader(AdminKeyHeader)
		var ok bool
		if hashed {
			ok = got != "" && bcrypt.CompareHashAndPassword([]byte(key), []byte(got)) == nil
		} else {
			ok = subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
