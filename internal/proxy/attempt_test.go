package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttempt_StatusIsSticky(t *testing.T) {
	a := newAttempt()
	assert.Equal(t, http.StatusOK, a.status)

	a.WriteHeader(http.StatusBadGateway)
	a.WriteHeader(http.StatusOK)
	_, _ = a.Write([]byte("upstream down"))

	assert.Equal(t, http.StatusBadGateway, a.status)
	assert.True(t, a.retryable())
	assert.Equal(t, "upstream down", a.body.String())
}

func TestAttempt_WriteDefaultsToOK(t *testing.T) {
	a := newAttempt()
	n, err := a.Write([]byte("<html></html>"))
	assert.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, http.StatusOK, a.status)
	assert.False(t, a.retryable())

	var _ http.Flusher = a
	a.Flush()
	assert.Equal(t, 13, a.body.Len())
}

func TestAttempt_Replay(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(a *attempt)
		wantStatus int
		wantBody   string
	}{
		{
			name: "html page",
			setup: func(a *attempt) {
				a.Header().Set("Content-Type", "text/html")
				a.WriteHeader(http.StatusCreated)
				_, _ = a.Write([]byte("<p>ok</p>"))
			},
			wantStatus: http.StatusCreated,
			wantBody:   "<p>ok</p>",
		},
		{
			name: "no content",
			setup: func(a *attempt) {
				a.WriteHeader(http.StatusNoContent)
			},
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAttempt()
			tt.setup(a)

			w := httptest.NewRecorder()
			a.replay(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestAttempt_ReplayReplacesHeaders(t *testing.T) {
	a := newAttempt()
	a.Header().Set("Content-Type", "text/html; charset=utf-8")
	a.Header().Add("Set-Cookie", "a=1")
	a.Header().Add("Set-Cookie", "b=2")

	w := httptest.NewRecorder()
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Request-ID", "kept")

	a.replay(w)

	assert.Equal(t, []string{"text/html; charset=utf-8"}, w.Header().Values("Content-Type"))
	assert.Equal(t, []string{"a=1", "b=2"}, w.Header().Values("Set-Cookie"))
	assert.Equal(t, "kept", w.Header().Get("X-Request-ID"))

	// the buffered map is not aliased
	a.Header().Set("Content-Type", "application/json")
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
}
