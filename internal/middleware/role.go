package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safetrain/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		if role == "" {
			response.Abort(c, http.StatusUnauthorized, "missing user context")
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Abort(c, http.StatusForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}
