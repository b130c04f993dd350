package middleware

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/nonce"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/proxy"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
	"github.com/gin-gonic/gin"
)

// SnapshotSource supplies the settings in effect for a request.
type SnapshotSource interface {
	Snapshot() *settings.Snapshot
}

// SecurityHeadersMiddleware runs every response through the rewrite pipeline.
//
// Regular responses are buffered so the body can be stamped with the request
// nonce before it is sent. Bodies growing past the pipeline's size limit are
// flushed unmodified with headers attached. Streaming requests (SSE and
// WebSocket) are never buffered; they only get headers.
//
// The settings snapshot is read once, so the CSP header and the injected body
// always agree even if settings are reloaded mid-request. While nonces are
// stamped, conditional request headers are dropped so the handler never
// answers 304 for a body that carried another nonce.
func SecurityHeadersMiddleware(pipeline *rewrite.Pipeline, snapshots SnapshotSource, trustForwardedProto bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := snapshots.Snapshot()
		secure := IsSecure(c.Request, trustForwardedProto)
		src := nonce.ContextSource(c.Request.Context())
		token, hasNonce := src.Current()
		if rewrite.Stamps(snap, hasNonce) {
			rewrite.DropConditionals(c.Request.Header)
		}

		if proxy.IsStreamingRequest(c.Request) {
			pipeline.Skipped(rewrite.SkipStreaming)
			hw := &headerWriter{
				ResponseWriter: c.Writer,
				apply: func(h http.Header) {
					pipeline.ApplyHeaders(h, snap, token, secure)
				},
			}
			c.Writer = hw
			c.Next()
			hw.applyHeaders()
			c.Set(RewriteResultKey, rewrite.Result{Reason: rewrite.SkipStreaming})
			return
		}

		orig := c.Writer
		bw := &bufferedWriter{
			ResponseWriter: orig,
			limit:          pipeline.MaxBodyBytes(),
			onSpill: func() {
				pipeline.ApplyHeaders(orig.Header(), snap, token, secure)
				pipeline.Skipped(rewrite.SkipTooLarge)
			},
		}
		c.Writer = bw

		defer func() {
			if r := recover(); r != nil {
				// let the recovery middleware answer, with headers attached
				c.Writer = orig
				pipeline.ApplyHeaders(orig.Header(), snap, token, secure)
				panic(r)
			}
		}()

		c.Next()
		c.Writer = orig

		if bw.passthrough {
			c.Set(RewriteResultKey, rewrite.Result{Reason: rewrite.SkipTooLarge})
			return
		}

		resp := rewrite.NewHTTPResponse(orig.Status(), orig.Header(), bw.buf.Bytes())
		result := pipeline.Process(resp, src, snap, secure)
		c.Set(RewriteResultKey, result)

		orig.WriteHeaderNow()
		if body := resp.Body(); body != "" {
			_, _ = orig.WriteString(body)
		}
	}
}

// IsSecure reports whether the client connection used TLS. Behind a TLS
// terminating proxy the X-Forwarded-Proto header is consulted when trusted.
func IsSecure(r *http.Request, trustForwardedProto bool) bool {
	if r.TLS != nil {
		return true
	}
	if !trustForwardedProto {
		return false
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// bufferedWriter holds the body back until the handler chain returns. Status
// codes pass through to gin's writer, which does not commit them until the
// first body write.
type bufferedWriter struct {
	gin.ResponseWriter
	buf         bytes.Buffer
	limit       int64
	onSpill     func()
	passthrough bool
	wrote       bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.passthrough {
		return w.ResponseWriter.Write(p)
	}
	w.wrote = true
	if w.limit > 0 && int64(w.buf.Len()+len(p)) > w.limit {
		if err := w.spill(); err != nil {
			return 0, err
		}
		return w.ResponseWriter.Write(p)
	}
	return w.buf.Write(p)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *bufferedWriter) WriteHeaderNow() {
	if w.passthrough {
		w.ResponseWriter.WriteHeaderNow()
	}
}

func (w *bufferedWriter) Written() bool {
	if w.passthrough {
		return w.ResponseWriter.Written()
	}
	return w.wrote
}

func (w *bufferedWriter) Size() int {
	if w.passthrough {
		return w.ResponseWriter.Size()
	}
	if !w.wrote {
		return -1
	}
	return w.buf.Len()
}

func (w *bufferedWriter) Flush() {
	if w.passthrough {
		w.ResponseWriter.Flush()
	}
}

// spill switches to pass-through, sending what has been buffered so far.
func (w *bufferedWriter) spill() error {
	w.passthrough = true
	if w.onSpill != nil {
		w.onSpill()
	}
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}

// headerWriter attaches the security headers right before the response
// header is committed, without holding back the body.
type headerWriter struct {
	gin.ResponseWriter
	once  sync.Once
	apply func(http.Header)
}

func (w *headerWriter) applyHeaders() {
	w.once.Do(func() {
		w.apply(w.ResponseWriter.Header())
	})
}

func (w *headerWriter) WriteHeader(code int) {
	w.applyHeaders()
	w.ResponseWriter.WriteHeader(code)
}

func (w *headerWriter) WriteHeaderNow() {
	w.applyHeaders()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *headerWriter) Write(p []byte) (int, error) {
	w.applyHeaders()
	return w.ResponseWriter.Write(p)
}

func (w *headerWriter) WriteString(s string) (int, error) {
	w.applyHeaders()
	return w.ResponseWriter.WriteString(s)
}

func (w *headerWriter) Flush() {
	w.applyHeaders()
	w.ResponseWriter.Flush()
}

func (w *headerWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.applyHeaders()
	return w.ResponseWriter.Hijack()
}
