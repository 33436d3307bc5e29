package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safetrain/backend/internal/auth"
	"github.com/safetrain/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates the bearer token and sets user claims in context.
func JWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		authenticate(c, v, token)
	}
}

// JWTQuery reads the token from the token query parameter, for WebSocket clients
// that cannot set headers. A bearer header still wins when present.
func JWTQuery(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			token = c.Query("token")
		}
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, "token required")
			return
		}
		authenticate(c, v, token)
	}
}

func authenticate(c *gin.Context, v TokenValidator, token string) {
	claims, err := v.Validate(token)
	if err != nil {
		response.Abort(c, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextUserEmail, claims.Email)
	c.Next()
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
