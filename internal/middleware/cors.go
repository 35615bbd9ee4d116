package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, PATCH, OPTIONS"
	corsHeaders = "Content-Type, Authorization, Accept"
	corsMaxAge  = "86400"
)

// originSet is the parsed CORS_ALLOWED_ORIGINS value. An empty set or "*" allows any origin.
type originSet map[string]struct{}

func parseOrigins(s string) originSet {
	set := make(originSet)
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[o] = struct{}{}
		}
	}
	return set
}

// match returns the Access-Control-Allow-Origin value for origin, or "" when it is refused.
func (s originSet) match(origin string) string {
	if _, wildcard := s["*"]; wildcard || len(s) == 0 {
		return "*"
	}
	if _, ok := s[origin]; ok && origin != "" {
		return origin
	}
	return ""
}

// CORS lets browser players on other origins call the tracking API.
// allowedOrigins is "*" or a comma-separated list (e.g. "http://localhost:3000,http://localhost:3001").
// Preflights from refused origins get 403; simple requests pass through without CORS headers.
func CORS(allowedOrigins string) gin.HandlerFunc {
	origins := parseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allow := origins.match(origin)
		if allow != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			if allow != "*" {
				h.Add("Vary", "Origin")
			}
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if allow == "" && origin != "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		c.AbortWithStatus(http.StatusNoContent)
	}
}
