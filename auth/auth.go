// Package auth validates the externally-issued viewer JWTs the
// Signaling process (and its REST middleware) accept. The Control
// Plane is the only issuer; this package only ever verifies — the
// same HMAC-validation shape as the teacher's login middleware,
// generalized to a viewer token this core never mints itself.
package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ValidateViewerToken validates secret against token's HMAC signature
// and returns its claims.
func ValidateViewerToken(secret, token string) (claims jwt.MapClaims, err error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid viewer token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("auth: token not valid")
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("auth: unexpected claims shape")
	}
	return mc, nil
}

// TokenFromHeader extracts a bearer token from an Authorization header
// value ("Bearer <token>").
func TokenFromHeader(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// TokenFromSubprotocol extracts a bearer token from a
// Sec-WebSocket-Protocol value in the "authorization.bearer.<token>"
// format — browsers can't set arbitrary headers during a WebSocket
// handshake, so a viewer client that can't use query parameters rides
// this channel instead, the same fallback the teacher's AuthMiddleware
// used.
func TokenFromSubprotocol(subprotocols string) string {
	parts := strings.SplitN(subprotocols, ".", 3)
	if len(parts) >= 3 && parts[0] == "authorization" && parts[1] == "bearer" {
		return parts[2]
	}
	return ""
}
