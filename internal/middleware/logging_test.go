package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStructuredLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.DebugLevel)
	router := gin.New()
	router.Use(StructuredLoggingMiddleware(zap.New(core)))
	router.Use(func(c *gin.Context) {
		c.Set("request_id", "req-1")
		c.Set(NonceKey, "abc")
		c.Next()
		c.Set(RewriteResultKey, rewrite.Result{Reason: rewrite.SkipJSON})
	})
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, true, fields["nonce"])
	assert.Equal(t, "json", fields["rewrite_skipped"])
	assert.Equal(t, int64(200), fields["status"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
