package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateViewerTokenAccepts(t *testing.T) {
	token := signToken(t, "shh", jwt.MapClaims{"camera_id": "cam-1", "exp": time.Now().Add(time.Hour).Unix()})
	claims, err := ValidateViewerToken("shh", token)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", claims["camera_id"])
}

func TestValidateViewerTokenRejectsWrongSecret(t *testing.T) {
	token := signToken(t, "shh", jwt.MapClaims{"camera_id": "cam-1"})
	_, err := ValidateViewerToken("different", token)
	assert.Error(t, err)
}

func TestValidateViewerTokenRejectsExpired(t *testing.T) {
	token := signToken(t, "shh", jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	_, err := ValidateViewerToken("shh", token)
	assert.Error(t, err)
}

func TestTokenFromHeaderAndSubprotocol(t *testing.T) {
	assert.Equal(t, "abc123", TokenFromHeader("Bearer abc123"))
	assert.Equal(t, "", TokenFromHeader("abc123"))
	assert.Equal(t, "abc123", TokenFromSubprotocol("authorization.bearer.abc123"))
	assert.Equal(t, "", TokenFromSubprotocol("something-else"))
}
