// Package rewrite attaches composed security headers to outgoing responses and
// stamps eligible bodies with the request nonce.
package rewrite

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/inject"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/nonce"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/policy"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
	"go.uber.org/zap"
)

// SkipReason explains why a body was left untouched.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipDisabled    SkipReason = "disabled"
	SkipNoNonce     SkipReason = "no_nonce"
	SkipRedirect    SkipReason = "redirect"
	SkipJSON        SkipReason = "json"
	SkipContentType SkipReason = "content_type"
	SkipEncoded     SkipReason = "encoded"
	SkipTooLarge    SkipReason = "too_large"
	SkipStreaming   SkipReason = "streaming"
	SkipFailed      SkipReason = "failed"
)

// Options controls which responses are rewritten
type Options struct {
	// ContentTypes lists the media types whose bodies are rewritten
	ContentTypes []string
	// MaxBodyBytes skips larger bodies; zero means unlimited
	MaxBodyBytes int64
}

// DefaultOptions returns the default rewrite options
func DefaultOptions() Options {
	return Options{
		ContentTypes: []string{"text/html", "application/xhtml+xml"},
		MaxBodyBytes: 5 << 20,
	}
}

// Result describes what the pipeline did to a response
type Result struct {
	Headers   []policy.Header
	Rewritten bool
	Tags      int
	Reason    SkipReason
}

// Pipeline applies headers and nonce injection. It holds no per-request state
// and is safe for concurrent use.
type Pipeline struct {
	contentTypes map[string]bool
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewPipeline creates a rewrite pipeline
func NewPipeline(opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.ContentTypes) == 0 {
		opts.ContentTypes = DefaultOptions().ContentTypes
	}

	types := make(map[string]bool, len(opts.ContentTypes))
	for _, ct := range opts.ContentTypes {
		types[strings.ToLower(strings.TrimSpace(ct))] = true
	}

	return &Pipeline{
		contentTypes: types,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       logger,
	}
}

// Process attaches the composed headers to resp and, when eligible, replaces
// its body with the nonce-stamped version. It never panics; on an internal
// failure the response keeps whatever headers were applied and its original body.
func (p *Pipeline) Process(resp Response, src nonce.Source, snap *settings.Snapshot, secure bool) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Response rewrite failed, passing body through",
				zap.String("panic", fmt.Sprint(r)),
			)
			result.Rewritten = false
			result.Tags = 0
			result.Reason = SkipFailed
			metrics.RewriteSkippedTotal.WithLabelValues(string(SkipFailed)).Inc()
		}
		metrics.RewriteDuration.Observe(time.Since(start).Seconds())
		metrics.RewriteProcessedTotal.WithLabelValues(outcome(result)).Inc()
	}()

	token, hasNonce := "", false
	if src != nil {
		token, hasNonce = src.Current()
	}

	result.Headers = p.ApplyHeaders(resp.Header(), snap, token, secure)

	if reason := p.eligibility(resp, snap, hasNonce); reason != SkipNone {
		result.Reason = reason
		p.skipped(reason, resp)
		return result
	}

	DropValidators(resp.Header())

	body := resp.Body()
	out, tags := inject.New(token).InjectCount(body)
	if tags > 0 {
		resp.SetBody(out)
		metrics.NoncesInjectedTotal.Add(float64(tags))
	}

	result.Rewritten = true
	result.Tags = tags
	return result
}

// ApplyHeaders composes the headers for snap and sets them on h, replacing any
// value the application set. Only one of the two CSP header variants is left.
func (p *Pipeline) ApplyHeaders(h http.Header, snap *settings.Snapshot, token string, secure bool) []policy.Header {
	headers := policy.Compose(snap, policy.Input{Nonce: token, Secure: secure})

	for _, header := range headers {
		h.Set(header.Name, header.Value)
		switch header.Name {
		case policy.HeaderCSP:
			h.Del(policy.HeaderCSPReportOnly)
		case policy.HeaderCSPReportOnly:
			h.Del(policy.HeaderCSP)
		}
		metrics.HeadersAppliedTotal.WithLabelValues(header.Name).Inc()
	}

	return headers
}

// MaxBodyBytes returns the largest body the pipeline rewrites; zero means unlimited.
func (p *Pipeline) MaxBodyBytes() int64 {
	return p.maxBodyBytes
}

// Skipped records a response that bypassed the pipeline entirely.
func (p *Pipeline) Skipped(reason SkipReason) {
	metrics.RewriteSkippedTotal.WithLabelValues(string(reason)).Inc()
	metrics.RewriteProcessedTotal.WithLabelValues("skipped").Inc()
}

func (p *Pipeline) eligibility(resp Response, snap *settings.Snapshot, hasNonce bool) SkipReason {
	if snap == nil || !snap.CSP.InjectNonce {
		return SkipDisabled
	}
	if !hasNonce {
		return SkipNoNonce
	}
	if resp.IsRedirect() {
		return SkipRedirect
	}

	// a bare string body is always markup
	if _, ok := resp.(*TextResponse); ok {
		return SkipNone
	}

	header := resp.Header()
	mediaType := MediaType(header.Get("Content-Type"))
	if mediaType == "application/json" {
		return SkipJSON
	}

	if enc := header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return SkipEncoded
	}

	body := resp.Body()
	if p.maxBodyBytes > 0 && int64(len(body)) > p.maxBodyBytes {
		return SkipTooLarge
	}

	if mediaType == "" {
		mediaType = MediaType(http.DetectContentType([]byte(body)))
	}
	if !p.contentTypes[mediaType] {
		return SkipContentType
	}

	return SkipNone
}

func (p *Pipeline) skipped(reason SkipReason, resp Response) {
	metrics.RewriteSkippedTotal.WithLabelValues(string(reason)).Inc()
	if ce := p.logger.Check(zap.DebugLevel, "Response body not rewritten"); ce != nil {
		ce.Write(
			zap.String("reason", string(reason)),
			zap.String("content_type", resp.Header().Get("Content-Type")),
		)
	}
}

// MediaType returns the lowercased media type of a Content-Type value, without parameters.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func outcome(r Result) string {
	switch {
	case r.Reason == SkipFailed:
		return "failed"
	case r.Rewritten:
		return "rewritten"
	default:
		return "headers_only"
	}
}
