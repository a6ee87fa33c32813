package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(secret string) *gin.Engine {
	r := gin.New()
	r.GET("/snapshot/:camera_id", RequireViewerToken(secret), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireViewerTokenDisabledWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)
	rec := httptest.NewRecorder()
	newRouter("").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireViewerTokenRejectsMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)
	rec := httptest.NewRecorder()
	newRouter("shh").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireViewerTokenAcceptsValidBearer(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, err := tok.SignedString([]byte("shh"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	newRouter("shh").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireViewerTokenRejectsBadSignature(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	signed, err := tok.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	newRouter("shh").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
