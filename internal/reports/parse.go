package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/violation"
)

// ErrUnsupportedContentType is returned for bodies that are neither a legacy
// report-uri payload nor a Reporting API batch.
var ErrUnsupportedContentType = errors.New("unsupported report content type")

const (
	contentTypeCSPReport  = "application/csp-report"
	contentTypeJSON       = "application/json"
	contentTypeReportsAPI = "application/reports+json"

	reportTypeCSP = "csp-violation"
)

// legacyEnvelope is the body browsers POST to a report-uri endpoint.
type legacyEnvelope struct {
	Report *legacyReport `json:"csp-report"`
}

type legacyReport struct {
	DocumentURI        string `json:"document-uri"`
	Referrer           string `json:"referrer"`
	BlockedURI         string `json:"blocked-uri"`
	ViolatedDirective  string `json:"violated-directive"`
	EffectiveDirective string `json:"effective-directive"`
	OriginalPolicy     string `json:"original-policy"`
	Disposition        string `json:"disposition"`
	SourceFile         string `json:"source-file"`
	LineNumber         int    `json:"line-number"`
	ColumnNumber       int    `json:"column-number"`
	StatusCode         int    `json:"status-code"`
	ScriptSample       string `json:"script-sample"`
}

// apiReport is one entry of a Reporting API batch.
type apiReport struct {
	Type      string        `json:"type"`
	Age       int64         `json:"age"`
	URL       string        `json:"url"`
	UserAgent string        `json:"user_agent"`
	Body      apiReportBody `json:"body"`
}

type apiReportBody struct {
	DocumentURL        string `json:"documentURL"`
	Referrer           string `json:"referrer"`
	BlockedURL         string `json:"blockedURL"`
	EffectiveDirective string `json:"effectiveDirective"`
	OriginalPolicy     string `json:"originalPolicy"`
	Disposition        string `json:"disposition"`
	SourceFile         string `json:"sourceFile"`
	LineNumber         int    `json:"lineNumber"`
	ColumnNumber       int    `json:"columnNumber"`
	StatusCode         int    `json:"statusCode"`
	Sample             string `json:"sample"`
}

// Parse decodes a report body according to its Content-Type. Reporting API
// entries of other types are dropped; an empty result is not an error.
func Parse(contentType string, body []byte) ([]*violation.Report, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	switch strings.ToLower(mediaType) {
	case contentTypeCSPReport, contentTypeJSON:
		return parseLegacy(body)
	case contentTypeReportsAPI:
		return parseReportingAPI(body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}
}

func parseLegacy(body []byte) ([]*violation.Report, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode csp-report body: %w", err)
	}
	if env.Report == nil {
		return nil, errors.New("missing csp-report object")
	}

	l := env.Report
	return []*violation.Report{{
		DocumentURI:        l.DocumentURI,
		Referrer:           l.Referrer,
		BlockedURI:         l.BlockedURI,
		ViolatedDirective:  l.ViolatedDirective,
		EffectiveDirective: l.EffectiveDirective,
		OriginalPolicy:     l.OriginalPolicy,
		Disposition:        l.Disposition,
		SourceFile:         l.SourceFile,
		LineNumber:         l.LineNumber,
		ColumnNumber:       l.ColumnNumber,
		StatusCode:         l.StatusCode,
		ScriptSample:       l.ScriptSample,
	}}, nil
}

func parseReportingAPI(body []byte) ([]*violation.Report, error) {
	var batch []apiReport
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode reports+json body: %w", err)
	}

	out := make([]*violation.Report, 0, len(batch))
	for _, entry := range batch {
		if entry.Type != reportTypeCSP {
			continue
		}
		b := entry.Body
		doc := b.DocumentURL
		if doc == "" {
			doc = entry.URL
		}
		out = append(out, &violation.Report{
			UserAgent:          entry.UserAgent,
			DocumentURI:        doc,
			Referrer:           b.Referrer,
			BlockedURI:         b.BlockedURL,
			ViolatedDirective:  b.EffectiveDirective,
			EffectiveDirective: b.EffectiveDirective,
			OriginalPolicy:     b.OriginalPolicy,
			Disposition:        b.Disposition,
			SourceFile:         b.SourceFile,
			LineNumber:         b.LineNumber,
			ColumnNumber:       b.ColumnNumber,
			StatusCode:         b.StatusCode,
			ScriptSample:       b.Sample,
		})
	}
	return out, nil
}
