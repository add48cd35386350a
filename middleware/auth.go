package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/config"
)

const OperatorKey = "operator"

func sessionKey(tokenID string) string { return "session:" + tokenID }

// IssueToken signs a token for operator and opens its session in the cache.
func IssueToken(ctx context.Context, c cache.Cache, sec config.SecurityConfig, operator string) (string, *Claims, error) {
	tok, claims, err := GenerateToken(operator, sec.JWTSecret, sec.JWTTTLH)
	if err != nil {
		return "", nil, err
	}
	if err := c.Set(ctx, sessionKey(claims.ID), operator, sec.JWTTTLH); err != nil {
		return "", nil, err
	}
	return tok, claims, nil
}

// RevokeToken closes the session of a token; the JWT itself stays valid but
// Auth rejects it.
func RevokeToken(ctx context.Context, c cache.Cache, claims *Claims) error {
	return c.Del(ctx, sessionKey(claims.ID))
}

// Authenticate validates a raw token and checks its session is still open.
func Authenticate(ctx context.Context, sec config.SecurityConfig, c cache.Cache, tokenStr string) (*Claims, error) {
	claims, err := ParseToken(tokenStr, sec.JWTSecret)
	if err != nil {
		return nil, err
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := c.Get(cacheCtx, sessionKey(claims.ID)); err != nil {
		return nil, err
	}
	return claims, nil
}

// Auth validates the Bearer JWT token and checks the session cache. Stream
// endpoints may pass the token as ?token= instead since browsers cannot set
// headers on EventSource and WebSocket requests.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ctx.Query("token")
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		}
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := Authenticate(ctx.Request.Context(), sec, c, tokenStr)
		if err != nil {
			msg := "invalid token"
			if cache.IsNotFound(err) {
				msg = "session expired"
			}
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		ctx.Set(OperatorKey, claims)
		ctx.Next()
	}
}

// GetClaims retrieves the authenticated token claims from the Gin context.
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(OperatorKey); exists {
		return v.(*Claims)
	}
	return nil
}

// GetOperator retrieves the authenticated operator name, or "".
func GetOperator(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Operator
	}
	return ""
}
