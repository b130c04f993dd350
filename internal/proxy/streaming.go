package proxy

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// IsStreamingRequest detects SSE and WebSocket requests. Their responses are
// passed through without buffering.
func IsStreamingRequest(r *http.Request) bool {
	return isSSE(r) || isWebSocket(r)
}

func isSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func isWebSocket(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	return strings.Contains(connection, "upgrade") && strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// handleStreaming handles SSE and WebSocket requests without buffering
func (p *Proxy) handleStreaming(w http.ResponseWriter, r *http.Request) {
	span := trace.SpanFromContext(r.Context())
	startTime := time.Now()
	backend := p.target.String()

	if !p.circuitBreaker.Allow() {
		span.SetStatus(codes.Error, "circuit breaker open")
		metrics.ProxyStreamingErrorsTotal.WithLabelValues("circuit_breaker_open", backend).Inc()
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	streamType := "sse"
	if isWebSocket(r) {
		streamType = "websocket"
	}
	metrics.ProxyStreamingRequestsTotal.WithLabelValues(streamType, backend).Inc()

	p.logger.Debug("Handling streaming request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("type", streamType),
		zap.String("target", backend),
	)

	if streamType == "websocket" {
		// httputil.ReverseProxy handles the upgrade and hijacks the connection
		p.reverseProxy.ServeHTTP(w, r)
		p.circuitBreaker.RecordSuccess()
		metrics.ProxyRequestDuration.WithLabelValues(r.Method, "101", backend).Observe(time.Since(startTime).Seconds())
		return
	}

	status := p.streamingProxy(w, r)
	if status == http.StatusBadGateway {
		p.circuitBreaker.RecordFailure()
		span.SetStatus(codes.Error, "backend unreachable")
	} else {
		p.circuitBreaker.RecordSuccess()
	}
	metrics.ProxyRequestDuration.WithLabelValues(r.Method, strconv.Itoa(status), backend).Observe(time.Since(startTime).Seconds())
}

// streamingProxy forwards the request and copies the response as it arrives
func (p *Proxy) streamingProxy(w http.ResponseWriter, r *http.Request) int {
	targetURL := *r.URL
	targetURL.Scheme = p.target.Scheme
	targetURL.Host = p.target.Host

	// no timeout, streams stay open until either side closes
	client := &http.Client{
		Transport: p.reverseProxy.Transport,
	}

	proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), r.Body)
	if err != nil {
		p.logger.Error("Failed to create proxy request",
			zap.Error(err),
			zap.String("target", targetURL.String()),
		)
		metrics.ProxyStreamingErrorsTotal.WithLabelValues("request", p.target.String()).Inc()
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return http.StatusBadGateway
	}

	copyHeaders(proxyReq.Header, r.Header)
	removeHopHeaders(proxyReq.Header)
	proxyReq.Host = r.Host
	prepareOutbound(proxyReq, false)

	resp, err := client.Do(proxyReq)
	if err != nil {
		p.logger.Error("Proxy request failed",
			zap.Error(err),
			zap.String("target", targetURL.String()),
		)
		metrics.ProxyStreamingErrorsTotal.WithLabelValues("upstream", p.target.String()).Inc()
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	removeHopHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		p.handleSSEStream(w, resp.Body)
		return resp.StatusCode
	}

	_, _ = io.Copy(w, resp.Body)
	return resp.StatusCode
}

// handleSSEStream copies an event stream line by line, flushing each line
func (p *Proxy) handleSSEStream(w http.ResponseWriter, body io.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		p.logger.Error("ResponseWriter does not support flushing")
		_, _ = io.Copy(w, body)
		return
	}

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				p.logger.Debug("Client went away during SSE stream", zap.Error(werr))
				metrics.ProxyStreamingErrorsTotal.WithLabelValues("client_write", p.target.String()).Inc()
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Error("Error reading SSE stream", zap.Error(err))
				metrics.ProxyStreamingErrorsTotal.WithLabelValues("upstream_read", p.target.String()).Inc()
			}
			return
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
