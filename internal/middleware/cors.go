package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization"
	corsMaxAge  = 24 * time.Hour
)

// corsPolicy is the parsed CORS_ALLOWED_ORIGINS setting.
type corsPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newCORSPolicy(allowedOrigins string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[o] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.any = true
	}
	return p
}

// allow returns the Access-Control-Allow-Origin value for origin, or "" to send none.
func (p corsPolicy) allow(origin string) string {
	if p.any {
		return "*"
	}
	if _, ok := p.origins[origin]; ok {
		return origin
	}
	return ""
}

// CORS sets CORS headers for the training web client and answers preflight requests.
// allowedOrigins is "*" or a comma-separated list (e.g. "http://localhost:3000,https://train.example").
func CORS(allowedOrigins string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))
	return func(c *gin.Context) {
		if !policy.any {
			c.Header("Vary", "Origin")
		}
		if allow := policy.allow(c.GetHeader("Origin")); allow != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", maxAge)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
