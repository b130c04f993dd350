package middleware

import (
	"fmt"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware creates a gin middleware for distributed tracing. The
// propagated context is forwarded to the backend by the proxy.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)

	return func(c *gin.Context) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = UnmatchedPath
		}
		spanName := fmt.Sprintf("%s %s", c.Request.Method, route)

		ctx, span := tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("url.path", c.Request.URL.Path),
				attribute.String("server.address", c.Request.Host),
				attribute.String("user_agent.original", c.Request.UserAgent()),
				attribute.Int64("http.request.body.size", c.Request.ContentLength),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Request.Header))

		c.Next()

		span.SetAttributes(
			attribute.Int("http.response.status_code", c.Writer.Status()),
			attribute.Int("http.response.body.size", c.Writer.Size()),
		)

		if result, ok := c.Get(RewriteResultKey); ok {
			if r, ok := result.(rewrite.Result); ok {
				span.SetAttributes(
					attribute.Bool("securityheaders.rewritten", r.Rewritten),
					attribute.Int("securityheaders.nonce_tags", r.Tags),
					attribute.String("securityheaders.skip_reason", string(r.Reason)),
				)
			}
		}

		if c.Writer.Status() >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", c.Writer.Status()))
		}
		if len(c.Errors) > 0 {
			span.SetStatus(codes.Error, c.Errors.String())
			span.SetAttributes(attribute.String("error.message", c.Errors.String()))
		}
	}
}
