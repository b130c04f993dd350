package reports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyBody = `{
  "csp-report": {
    "document-uri": "https://example.com/page",
    "referrer": "https://example.com/",
    "blocked-uri": "inline",
    "violated-directive": "script-src-elem",
    "effective-directive": "script-src-elem",
    "original-policy": "script-src 'self'; report-uri /_/reports/csp-endpoint/report",
    "disposition": "enforce",
    "source-file": "https://example.com/page",
    "line-number": 12,
    "column-number": 3,
    "status-code": 200,
    "script-sample": "alert(1)"
  }
}`

const reportingAPIBody = `[
  {
    "type": "csp-violation",
    "age": 10,
    "url": "https://example.com/a",
    "user_agent": "Mozilla/5.0",
    "body": {
      "documentURL": "https://example.com/a",
      "blockedURL": "https://evil.example/x.js",
      "effectiveDirective": "script-src-elem",
      "originalPolicy": "script-src 'self'",
      "disposition": "report",
      "lineNumber": 4,
      "statusCode": 200,
      "sample": ""
    }
  },
  {
    "type": "deprecation",
    "url": "https://example.com/a",
    "body": {"id": "x"}
  },
  {
    "type": "csp-violation",
    "url": "https://example.com/b",
    "body": {"effectiveDirective": "style-src"}
  }
]`

func TestParse_Legacy(t *testing.T) {
	for _, ct := range []string{"application/csp-report", "application/json", "Application/CSP-Report; charset=utf-8"} {
		t.Run(ct, func(t *testing.T) {
			reports, err := Parse(ct, []byte(legacyBody))
			require.NoError(t, err)
			require.Len(t, reports, 1)

			r := reports[0]
			assert.Equal(t, "https://example.com/page", r.DocumentURI)
			assert.Equal(t, "inline", r.BlockedURI)
			assert.Equal(t, "script-src-elem", r.ViolatedDirective)
			assert.Equal(t, "enforce", r.Disposition)
			assert.Equal(t, 12, r.LineNumber)
			assert.Equal(t, 3, r.ColumnNumber)
			assert.Equal(t, "alert(1)", r.ScriptSample)
		})
	}
}

func TestParse_ReportingAPI(t *testing.T) {
	reports, err := Parse("application/reports+json", []byte(reportingAPIBody))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	first := reports[0]
	assert.Equal(t, "https://example.com/a", first.DocumentURI)
	assert.Equal(t, "https://evil.example/x.js", first.BlockedURI)
	assert.Equal(t, "script-src-elem", first.Directive())
	assert.Equal(t, "report", first.Disposition)
	assert.Equal(t, "Mozilla/5.0", first.UserAgent)

	// documentURL falls back to the report url
	assert.Equal(t, "https://example.com/b", reports[1].DocumentURI)
	assert.Equal(t, "style-src", reports[1].Directive())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		unsupported bool
	}{
		{name: "form post", contentType: "application/x-www-form-urlencoded", body: "a=b", unsupported: true},
		{name: "missing content type", contentType: "", body: legacyBody, unsupported: true},
		{name: "malformed legacy", contentType: "application/csp-report", body: "{"},
		{name: "legacy without envelope", contentType: "application/csp-report", body: `{"document-uri":"x"}`},
		{name: "malformed batch", contentType: "application/reports+json", body: `{"type":"csp-violation"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports, err := Parse(tt.contentType, []byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, reports)
			assert.Equal(t, tt.unsupported, errors.Is(err, ErrUnsupportedContentType))
		})
	}
}
