// Package policy turns a settings snapshot into literal security header values.
package policy

import (
	"strconv"
	"strings"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
)

// Header names emitted by the composer
const (
	HeaderCSP               = "Content-Security-Policy"
	HeaderCSPReportOnly     = "Content-Security-Policy-Report-Only"
	HeaderHSTS              = "Strict-Transport-Security"
	HeaderPermissionsPolicy = "Permissions-Policy"
)

// Header is a single composed header.
type Header struct {
	Name  string
	Value string
}

// Input carries the per-response facts the composer depends on.
type Input struct {
	// Nonce of the current response; empty means absent
	Nonce string
	// Secure is true when the client connection is TLS
	Secure bool
}

var cspKeywords = map[string]bool{
	"self":                     true,
	"none":                     true,
	"unsafe-inline":            true,
	"unsafe-eval":              true,
	"unsafe-hashes":            true,
	"unsafe-allow-redirects":   true,
	"strict-dynamic":           true,
	"report-sample":            true,
	"wasm-unsafe-eval":         true,
	"inline-speculation-rules": true,
}

var quotedPrefixes = []string{"nonce-", "sha256-", "sha384-", "sha512-"}

// Compose returns the headers for s in the order CSP, HSTS, Permissions-Policy,
// then misc headers in configuration order. It is deterministic and has no
// side effects.
func Compose(s *settings.Snapshot, in Input) []Header {
	if s == nil {
		return nil
	}

	var headers []Header

	if s.CSP.Enabled {
		if value := ContentSecurityPolicy(s.CSP, in.Nonce); value != "" {
			headers = append(headers, Header{Name: CSPHeaderName(s.CSP.ReportOnly), Value: value})
		}
	}

	if s.HSTS.Enabled && in.Secure && s.HSTS.MaxAge >= 0 {
		headers = append(headers, Header{Name: HeaderHSTS, Value: StrictTransportSecurity(s.HSTS)})
	}

	if s.PermissionsPolicy.Enabled {
		if value := PermissionsPolicy(s.PermissionsPolicy); value != "" {
			headers = append(headers, Header{Name: HeaderPermissionsPolicy, Value: value})
		}
	}

	if s.Misc.Enabled {
		for _, h := range s.Misc.Headers {
			if h.Enabled && h.Name != "" {
				headers = append(headers, Header{Name: h.Name, Value: h.Value})
			}
		}
	}

	return headers
}

// CSPHeaderName returns the enforcing or report-only header name.
func CSPHeaderName(reportOnly bool) string {
	if reportOnly {
		return HeaderCSPReportOnly
	}
	return HeaderCSP
}

// ContentSecurityPolicy renders the CSP value. When injection is enabled and
// nonce is set, 'nonce-<nonce>' goes to script-src and style-src; for each of
// those that is missing it goes once to default-src instead. A directive set to
// 'none' never gets the nonce; it keeps denying everything.
func ContentSecurityPolicy(c settings.CSP, nonce string) string {
	withNonce := c.InjectNonce && nonce != ""
	nonceSource := "'nonce-" + nonce + "'"

	needsDefault := !c.HasDirective("script-src") || !c.HasDirective("style-src")

	parts := make([]string, 0, len(c.Directives)+1)
	for _, d := range c.Directives {
		sources := make([]string, 0, len(d.Sources)+1)
		for _, src := range d.Sources {
			sources = append(sources, QuoteSource(src))
		}

		if withNonce && !deniesAll(d.Sources) {
			switch d.Name {
			case "script-src", "style-src":
				sources = append(sources, nonceSource)
			case "default-src":
				if needsDefault {
					sources = append(sources, nonceSource)
				}
			}
		}

		if len(sources) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		parts = append(parts, d.Name+" "+strings.Join(sources, " "))
	}

	if c.ReportURI != "" {
		parts = append(parts, "report-uri "+c.ReportURI)
	}

	return strings.Join(parts, "; ")
}

func deniesAll(sources []string) bool {
	for _, src := range sources {
		if strings.EqualFold(strings.Trim(src, "'"), "none") {
			return true
		}
	}
	return false
}

// QuoteSource single-quotes CSP keywords and nonce/hash sources given bare.
// Hosts, schemes and already quoted tokens are returned as-is.
func QuoteSource(src string) string {
	if strings.HasPrefix(src, "'") {
		return src
	}

	lower := strings.ToLower(src)
	if cspKeywords[lower] {
		return "'" + lower + "'"
	}
	for _, p := range quotedPrefixes {
		if strings.HasPrefix(lower, p) {
			return "'" + src + "'"
		}
	}
	return src
}

// StrictTransportSecurity renders the HSTS value.
func StrictTransportSecurity(h settings.HSTS) string {
	var b strings.Builder
	b.WriteString("max-age=")
	b.WriteString(strconv.FormatInt(h.MaxAge, 10))
	if h.IncludeSubdomains {
		b.WriteString("; includeSubDomains")
	}
	if h.Preload {
		b.WriteString("; preload")
	}
	return b.String()
}

// PermissionsPolicy renders the Permissions-Policy value as comma separated
// feature=(allow-list) clauses.
func PermissionsPolicy(p settings.PermissionsPolicy) string {
	clauses := make([]string, 0, len(p.Features))
	for _, f := range p.Features {
		clauses = append(clauses, f.Name+"="+allowList(f.Allow))
	}
	return strings.Join(clauses, ", ")
}

func allowList(allow []string) string {
	tokens := make([]string, 0, len(allow))
	for _, a := range allow {
		switch a {
		case "*":
			return "*"
		case "none":
			// an explicit none denies everything
			return "()"
		case "self", "src":
			tokens = append(tokens, a)
		default:
			tokens = append(tokens, strconv.Quote(a))
		}
	}
	return "(" + strings.Join(tokens, " ") + ")"
}
