package middleware

import (
	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/nonce"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys shared by the security middlewares
const (
	NonceKey         = "csp_nonce"
	RewriteResultKey = "rewrite_result"
)

// NonceMiddleware issues one nonce per request. The nonce is stored in the
// request context, where the security headers middleware reads it, and is
// forwarded to the backend in forwardHeader so pages can render it into
// inline tags themselves.
func NonceMiddleware(gen *nonce.Generator, forwardHeader string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Never trust a client-supplied value
		if forwardHeader != "" {
			c.Request.Header.Del(forwardHeader)
		}

		token, err := gen.Generate()
		if err != nil {
			// Responses still get headers, just without a nonce
			logger.Error("Failed to generate CSP nonce",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
			)
			metrics.NonceGenerationErrorsTotal.Inc()
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(nonce.WithNonce(c.Request.Context(), token))
		c.Set(NonceKey, token)
		if forwardHeader != "" {
			c.Request.Header.Set(forwardHeader, token)
		}

		c.Next()
	}
}

// GetNonce returns the nonce issued for the request, or "" if none was issued.
func GetNonce(c *gin.Context) string {
	return c.GetString(NonceKey)
}
