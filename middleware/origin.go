package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin gates websocket handshakes by Origin header. IM_ALLOWED_ORIGINS is a
// comma-separated allowlist; unset means any origin (mobile clients send none).
func Origin() gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range strings.Split(os.Getenv("IM_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if len(allowed) > 0 {
			origin := c.GetHeader("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; !ok {
					c.AbortWithStatus(http.StatusForbidden)
					return
				}
			}
		}
		c.Next()
	}
}
