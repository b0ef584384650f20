// security.go adds protective response headers and CORS handling for the JSON API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

const hstsMaxAge = 31536000

// SecurityHeadersMiddleware sets headers suitable for a JSON API. HSTS is only sent
// when the server terminates TLS itself.
func SecurityHeadersMiddleware(tls bool) gin.HandlerFunc {
	hsts := "max-age=" + strconv.Itoa(hstsMaxAge) + "; includeSubDomains"
	return func(c *gin.Context) {
		h := c.Writer.Header()
		if tls {
			h.Set("Strict-Transport-Security", hsts)
		}
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}

// CORSMiddleware answers preflight requests and echoes allowed origins. Credentials are
// allowed because the session travels in a cookie, so a wildcard origin is echoed back
// as the concrete request origin rather than "*".
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if c.Request.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				h.Set("Access-Control-Max-Age", "600")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
