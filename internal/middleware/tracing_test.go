package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	router := gin.New()
	router.Use(TracingMiddleware("securityheaders-test"))
	router.Use(func(c *gin.Context) {
		c.Next()
		c.Set(RewriteResultKey, rewrite.Result{Rewritten: true, Tags: 3})
	})

	var traceparent string
	router.GET("/page", func(c *gin.Context) {
		traceparent = c.GetHeader("traceparent")
		c.String(http.StatusOK, "ok")
	})
	router.NoRoute(func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/page", nil))
	assert.NotEmpty(t, traceparent, "trace context must be forwarded upstream")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "GET /page", spans[0].Name())
	attrs := attribute.NewSet(spans[0].Attributes()...)
	v, ok := attrs.Value("securityheaders.nonce_tags")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
	v, ok = attrs.Value("http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(200), v.AsInt64())

	assert.Equal(t, "GET "+UnmatchedPath, spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
