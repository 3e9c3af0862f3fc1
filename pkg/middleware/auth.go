package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ICShapy/shapy/pkg/jwt"
	"github.com/ICShapy/shapy/pkg/log"
)

const (
	UserIDKey        = "user_id"
	SessionCookieKey = "session_id"
	AuthHeaderKey    = "Authorization"
	BearerPrefix     = "Bearer "
)

// TokenValidator validates session tokens.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware resolves the session cookie to a user.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// OptionalAuth resolves the caller when a valid session is presented and
// otherwise lets the request through as anonymous. Public scenes may be
// viewed without logging in.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			l := log.Ctx(c.Request.Context())
			l.Debug().Err(err).Msg("ignoring invalid session token")
			c.Next()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// GetUserID extracts user ID from Gin context. Empty means anonymous.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// sessionToken prefers the cookie; the bearer header is accepted for
// non-browser clients.
func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieKey); err == nil && cookie != "" {
		return cookie
	}
	if h := c.GetHeader(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimPrefix(h, BearerPrefix)
	}
	return ""
}
