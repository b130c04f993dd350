package rewrite

import (
	"net/http"
	"strconv"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
)

// Response is the capability set the pipeline needs from an outgoing response.
type Response interface {
	IsRedirect() bool
	Header() http.Header
	Body() string
	SetBody(body string)
}

// redirect statuses, matching the framework the headers were designed for
var redirectStatuses = map[int]bool{
	http.StatusCreated:           true,
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// IsRedirectStatus reports whether status is treated as a redirect.
func IsRedirectStatus(status int) bool {
	return redirectStatuses[status]
}

// Every rewritten body carries a fresh nonce, so neither side may reuse a
// cached copy: a 304 would pair an old body with a new CSP header.
var (
	validatorHeaders   = []string{"ETag", "Last-Modified"}
	conditionalHeaders = []string{"If-None-Match", "If-Modified-Since", "If-Range"}
)

// DropValidators removes cache validators describing the upstream bytes.
func DropValidators(h http.Header) {
	for _, name := range validatorHeaders {
		h.Del(name)
	}
}

// DropConditionals removes conditional request headers so the backend always
// answers with a full body that can be stamped.
func DropConditionals(h http.Header) {
	for _, name := range conditionalHeaders {
		h.Del(name)
	}
}

// Stamps reports whether responses rendered under snap get nonce-stamped
// bodies for a request holding a nonce.
func Stamps(snap *settings.Snapshot, hasNonce bool) bool {
	return hasNonce && snap != nil && snap.CSP.Enabled && snap.CSP.InjectNonce
}

// HTTPResponse is a buffered HTTP response. Its header map is shared with the
// caller so header changes are visible without copying.
type HTTPResponse struct {
	StatusCode int
	header     http.Header
	body       string
}

// NewHTTPResponse wraps a buffered response
func NewHTTPResponse(status int, header http.Header, body []byte) *HTTPResponse {
	if header == nil {
		header = make(http.Header)
	}
	return &HTTPResponse{
		StatusCode: status,
		header:     header,
		body:       string(body),
	}
}

// IsRedirect implements Response
func (r *HTTPResponse) IsRedirect() bool {
	return IsRedirectStatus(r.StatusCode)
}

// Header implements Response
func (r *HTTPResponse) Header() http.Header {
	return r.header
}

// Body implements Response
func (r *HTTPResponse) Body() string {
	return r.body
}

// SetBody replaces the body and keeps an explicit Content-Length in sync
func (r *HTTPResponse) SetBody(body string) {
	r.body = body
	if r.header.Get("Content-Length") != "" {
		r.header.Set("Content-Length", strconv.Itoa(len(body)))
	}
}

// TextResponse is a bare string body, as produced by page renderers before it
// is wrapped in an HTTP response. It is always treated as markup.
type TextResponse struct {
	header http.Header
	body   string
}

// NewTextResponse wraps a string body
func NewTextResponse(body string) *TextResponse {
	return &TextResponse{header: make(http.Header), body: body}
}

// IsRedirect implements Response
func (r *TextResponse) IsRedirect() bool {
	return false
}

// Header implements Response
func (r *TextResponse) Header() http.Header {
	return r.header
}

// Body implements Response
func (r *TextResponse) Body() string {
	return r.body
}

// SetBody implements Response
func (r *TextResponse) SetBody(body string) {
	r.body = body
}

// String returns the body
func (r *TextResponse) String() string {
	return r.body
}
