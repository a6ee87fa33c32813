// Package middleware holds gin middleware shared across the core's HTTP
// surfaces. Today that is viewer-token enforcement for the Signaling
// process's REST endpoints that sit outside the WebSocket upgrade path
// (SPEC_FULL.md 6), which has its own inline token handling because a
// failed check there must not write an HTTP response after upgrade.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"command-center-vms-cctv/be/auth"
)

// RequireViewerToken guards a REST route with a viewer token taken from
// the Authorization bearer header or, failing that, the "token" query
// parameter. Unlike the WebSocket handler it does not read the
// Sec-WebSocket-Protocol subprotocol framing. An empty secret disables
// the check entirely — a core run
// without a Control Plane issuing tokens (e.g. local/LAN mode).
func RequireViewerToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token := auth.TokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}

		if _, err := auth.ValidateViewerToken(secret, token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
