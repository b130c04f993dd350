package middleware

import (
	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StructuredLoggingMiddleware creates a middleware that logs requests with
// structured data, including what the rewrite pipeline did to the response.
func StructuredLoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		fields := []zap.Field{
			zap.String("method", param.Method),
			zap.String("path", param.Path),
			zap.String("query", param.Request.URL.RawQuery),
			zap.String("ip", param.ClientIP),
			zap.String("user_agent", param.Request.UserAgent()),
			zap.Int("status", param.StatusCode),
			zap.Duration("latency", param.Latency),
			zap.Int("body_size", param.BodySize),
		}

		if id, ok := param.Keys["request_id"].(string); ok {
			fields = append(fields, zap.String("request_id", id))
		}

		_, hasNonce := param.Keys[NonceKey].(string)
		fields = append(fields, zap.Bool("nonce", hasNonce))

		if result, ok := param.Keys[RewriteResultKey].(rewrite.Result); ok {
			fields = append(fields,
				zap.Bool("rewritten", result.Rewritten),
				zap.Int("nonce_tags", result.Tags),
				zap.Int("security_headers", len(result.Headers)),
			)
			if result.Reason != rewrite.SkipNone {
				fields = append(fields, zap.String("rewrite_skipped", string(result.Reason)))
			}
		}

		if param.ErrorMessage != "" {
			fields = append(fields, zap.String("error", param.ErrorMessage))
		}

		switch {
		case param.StatusCode >= 500:
			logger.Error("HTTP request", fields...)
		case param.StatusCode >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}

		// logged above
		return ""
	})
}
