package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/nonce"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type brokenEntropy struct{}

func (brokenEntropy) Read(p []byte) (int, error) {
	return 0, errors.New("no entropy")
}

func TestNonceMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name          string
		gen           *nonce.Generator
		forwardHeader string
		clientValue   string
		wantNonce     string
	}{
		{
			name:          "issues and forwards",
			gen:           nonce.NewGeneratorWithReader(4, bytes.NewReader([]byte{1, 2, 3, 4})),
			forwardHeader: "X-Csp-Nonce",
			wantNonce:     "AQIDBA==",
		},
		{
			name:          "client value replaced",
			gen:           nonce.NewGeneratorWithReader(4, bytes.NewReader([]byte{1, 2, 3, 4})),
			forwardHeader: "X-Csp-Nonce",
			clientValue:   "attacker-chosen",
			wantNonce:     "AQIDBA==",
		},
		{
			name:      "no forward header",
			gen:       nonce.NewGeneratorWithReader(4, bytes.NewReader([]byte{1, 2, 3, 4})),
			wantNonce: "AQIDBA==",
		},
		{
			name:          "generation failure",
			gen:           nonce.NewGeneratorWithReader(16, brokenEntropy{}),
			forwardHeader: "X-Csp-Nonce",
			clientValue:   "attacker-chosen",
			wantNonce:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(NonceMiddleware(tt.gen, tt.forwardHeader, zaptest.NewLogger(t)))

			var fromGin, fromCtx, forwarded string
			router.GET("/", func(c *gin.Context) {
				fromGin = GetNonce(c)
				fromCtx, _ = nonce.FromContext(c.Request.Context())
				if tt.forwardHeader != "" {
					forwarded = c.GetHeader(tt.forwardHeader)
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.clientValue != "" {
				req.Header.Set("X-Csp-Nonce", tt.clientValue)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantNonce, fromGin)
			assert.Equal(t, tt.wantNonce, fromCtx)
			if tt.forwardHeader != "" {
				assert.Equal(t, tt.wantNonce, forwarded)
			}
		})
	}
}
