package middleware

import (
	"net/http"
	"strings"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by Auth.
const (
	ContextUserID = "user_id"
	ContextRole   = "user_role"
	ContextClaims = "claims"
)

// TokenCookie carries the session token for browser clients.
const TokenCookie = "token"

// Auth resolves the current user from a bearer header, the token cookie or a
// token query parameter (websocket clients cannot set headers).
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFrom(c)
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated",
				"Authentication required", "يجب تسجيل الدخول")
			return
		}

		claims, err := utils.ValidateToken(tokenString, jwtSecret)
		if err != nil {
			abort(c, http.StatusUnauthorized, "unauthenticated",
				"Invalid or expired token", "رمز الدخول غير صالح أو منتهي الصلاحية")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// OptionalAuth sets the current user when a valid token is present and never
// rejects the request.
func OptionalAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := tokenFrom(c); tokenString != "" {
			if claims, err := utils.ValidateToken(tokenString, jwtSecret); err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextRole, claims.Role)
				c.Set(ContextClaims, claims)
			}
		}
		c.Next()
	}
}

func tokenFrom(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// RequireAdmin lets only global admins through. It must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			abort(c, http.StatusUnauthorized, "unauthenticated",
				"Authentication required", "يجب تسجيل الدخول")
			return
		}
		if role != models.RoleAdmin {
			abort(c, http.StatusForbidden, "forbidden",
				"Admin access required", "هذه العملية متاحة للمشرفين فقط")
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetClaims returns the token claims of the request.
func GetClaims(c *gin.Context) (*utils.Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok
}
