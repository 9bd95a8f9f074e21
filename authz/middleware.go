package authz

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hardian-n/otomatisin/internal/logger"
)

// Context keys set by the middleware
const (
	ContextKeyOrgID  = "org_id"
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "user_role"
)

type Middleware struct {
	Tokens        *TokenService
	InternalToken string
}

func NewMiddleware(jwtSecret, internalToken string) *Middleware {
	return &Middleware{
		Tokens:        NewTokenService(jwtSecret),
		InternalToken: internalToken,
	}
}

// RequireTenant validates the bearer JWT and stores org_id and user_id in the context
func (m *Middleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := m.Tokens.Validate(token)
		if err != nil {
			logger.Debugf("AUTH DENIED - %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			return
		}

		c.Set(ContextKeyOrgID, claims.OrgID)
		c.Set(ContextKeyUserID, claims.Subject)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireInternalToken guards service-to-service endpoints with a shared bearer token.
// With no token configured every request is refused.
func (m *Middleware) RequireInternalToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.InternalToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "internal token is not configured"})
			return
		}

		token, err := ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.InternalToken)) != 1 {
			logger.Warnf("AUTH DENIED - bad internal token from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal token"})
			return
		}
		c.Next()
	}
}

// OrgID returns the organization stored by RequireTenant
func OrgID(c *gin.Context) string {
	return c.GetString(ContextKeyOrgID)
}
