package proxy

import (
	"bytes"
	"net/http"
)

// attempt buffers one backend round trip so a failed try can be dropped and
// retried without the client seeing it. Only the final attempt is replayed.
type attempt struct {
	status      int
	header      http.Header
	body        bytes.Buffer
	wroteHeader bool
}

func newAttempt() *attempt {
	return &attempt{status: http.StatusOK, header: make(http.Header)}
}

func (a *attempt) Header() http.Header {
	return a.header
}

func (a *attempt) WriteHeader(code int) {
	if a.wroteHeader {
		return
	}
	a.status = code
	a.wroteHeader = true
}

func (a *attempt) Write(p []byte) (int, error) {
	a.WriteHeader(http.StatusOK)
	return a.body.Write(p)
}

// Flush satisfies http.Flusher for ReverseProxy; nothing leaves before replay.
func (a *attempt) Flush() {}

// retryable reports whether the backend answered with a server error.
func (a *attempt) retryable() bool {
	return a.status >= http.StatusInternalServerError
}

// replay copies the buffered response to w. Backend header values replace any
// value already set on w under the same name, so the rewrite stage sees the
// backend's Content-Type and Content-Encoding.
func (a *attempt) replay(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range a.header {
		dst[key] = append([]string(nil), values...)
	}

	w.WriteHeader(a.status)
	if a.body.Len() > 0 {
		_, _ = w.Write(a.body.Bytes())
	}
}
