package settings

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Severity classifies a ConfigurationError.
type Severity int

const (
	// SeverityWarning is reported but leaves the family enabled
	SeverityWarning Severity = iota
	// SeverityError disables the offending family (or misc entry)
	SeverityError
)

// String returns string representation of the severity
func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// ConfigurationError describes malformed or contradictory settings.
type ConfigurationError struct {
	Family   string   `json:"family"`
	Key      string   `json:"key"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Family, e.Key, e.Reason)
}

// MarshalText lets issues serialize with a readable severity.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const hstsPreloadMinAge = 31536000

var (
	tokenNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

	// headers owned by a policy family; misc entries may not set them
	reservedHeaders = []string{
		"Content-Security-Policy",
		"Content-Security-Policy-Report-Only",
		"Strict-Transport-Security",
		"Permissions-Policy",
	}
)

// Validate reports every issue found in s without modifying it.
func Validate(s *Snapshot) []*ConfigurationError {
	_, issues := Normalize(s)
	return issues
}

// Normalize returns a cleaned copy of s together with the issues found.
// Names are lowercased, tokens trimmed and de-duplicated. Any family with an
// error-level issue is disabled in the returned copy; an invalid misc entry
// disables only that entry.
func Normalize(s *Snapshot) (*Snapshot, []*ConfigurationError) {
	if s == nil {
		return nil, nil
	}
	out := s.Clone()
	var issues []*ConfigurationError

	cspIssues := normalizeCSP(&out.CSP)
	issues = append(issues, cspIssues...)
	if hasError(cspIssues) {
		out.CSP.Enabled = false
		out.CSP.InjectNonce = false
	}

	hstsIssues := normalizeHSTS(&out.HSTS)
	issues = append(issues, hstsIssues...)
	if hasError(hstsIssues) {
		out.HSTS.Enabled = false
	}

	ppIssues := normalizePermissionsPolicy(&out.PermissionsPolicy)
	issues = append(issues, ppIssues...)
	if hasError(ppIssues) {
		out.PermissionsPolicy.Enabled = false
	}

	issues = append(issues, normalizeMisc(&out.Misc)...)

	return out, issues
}

// HasErrors reports whether any issue is error-level.
func HasErrors(issues []*ConfigurationError) bool {
	return hasError(issues)
}

func hasError(issues []*ConfigurationError) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func issue(family, key string, sev Severity, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Family:   family,
		Key:      key,
		Reason:   fmt.Sprintf(format, args...),
		Severity: sev,
	}
}

func normalizeCSP(c *CSP) []*ConfigurationError {
	var issues []*ConfigurationError
	seen := make(map[string]bool)

	for i := range c.Directives {
		d := &c.Directives[i]
		d.Name = strings.ToLower(strings.TrimSpace(d.Name))
		key := fmt.Sprintf("directives[%d]", i)

		if !tokenNamePattern.MatchString(d.Name) {
			issues = append(issues, issue(FamilyCSP, key, SeverityError, "invalid directive name %q", d.Name))
			continue
		}
		if seen[d.Name] {
			issues = append(issues, issue(FamilyCSP, key, SeverityError, "duplicate directive %q", d.Name))
			continue
		}
		seen[d.Name] = true

		if d.Name == "report-uri" && c.ReportURI != "" {
			issues = append(issues, issue(FamilyCSP, key, SeverityError, "report-uri is configured both as a directive and as report_uri"))
		}

		d.Sources = dedupe(d.Sources)
		for _, src := range d.Sources {
			if !validSourceToken(src) {
				issues = append(issues, issue(FamilyCSP, key, SeverityError, "invalid source %q in %s", src, d.Name))
			}
		}
		if containsNone(d.Sources) && len(d.Sources) > 1 {
			issues = append(issues, issue(FamilyCSP, key, SeverityError, "'none' cannot be combined with other sources in %s", d.Name))
		}
	}

	c.ReportURI = strings.TrimSpace(c.ReportURI)
	if c.ReportURI != "" && !validReportURI(c.ReportURI) {
		issues = append(issues, issue(FamilyCSP, "report_uri", SeverityError, "invalid report endpoint %q", c.ReportURI))
	}

	if !c.Enabled {
		return issues
	}

	if len(c.Directives) == 0 {
		issues = append(issues, issue(FamilyCSP, "directives", SeverityError, "CSP is enabled but no directives are configured"))
	}

	if c.InjectNonce && !c.HasDirective("script-src") && !c.HasDirective("style-src") && !c.HasDirective("default-src") {
		issues = append(issues, issue(FamilyCSP, "inject_nonce", SeverityWarning,
			"nonce injection is enabled but none of script-src, style-src or default-src is configured"))
	}

	return issues
}

func normalizeHSTS(h *HSTS) []*ConfigurationError {
	var issues []*ConfigurationError

	if h.MaxAge < 0 {
		issues = append(issues, issue(FamilyHSTS, "max_age", SeverityError, "max_age must be non-negative, got %d", h.MaxAge))
	}

	if h.Enabled && h.Preload {
		if !h.IncludeSubdomains {
			issues = append(issues, issue(FamilyHSTS, "preload", SeverityWarning, "preload requires include_subdomains to be accepted by preload lists"))
		}
		if h.MaxAge >= 0 && h.MaxAge < hstsPreloadMinAge {
			issues = append(issues, issue(FamilyHSTS, "preload", SeverityWarning, "preload requires max_age of at least %d", hstsPreloadMinAge))
		}
	}

	return issues
}

func normalizePermissionsPolicy(p *PermissionsPolicy) []*ConfigurationError {
	var issues []*ConfigurationError
	seen := make(map[string]bool)

	for i := range p.Features {
		f := &p.Features[i]
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		key := fmt.Sprintf("features[%d]", i)

		if !tokenNamePattern.MatchString(f.Name) {
			issues = append(issues, issue(FamilyPermissionsPolicy, key, SeverityError, "invalid feature name %q", f.Name))
			continue
		}
		if seen[f.Name] {
			issues = append(issues, issue(FamilyPermissionsPolicy, key, SeverityError, "duplicate feature %q", f.Name))
			continue
		}
		seen[f.Name] = true

		allow := make([]string, 0, len(f.Allow))
		for _, a := range f.Allow {
			allow = append(allow, normalizeAllowToken(a))
		}
		f.Allow = dedupe(allow)

		for _, a := range f.Allow {
			if !validAllowToken(a) {
				issues = append(issues, issue(FamilyPermissionsPolicy, key, SeverityError, "invalid allow-list entry %q for %s", a, f.Name))
			}
		}
		if containsNone(f.Allow) && len(f.Allow) > 1 {
			issues = append(issues, issue(FamilyPermissionsPolicy, key, SeverityError, "'none' cannot be combined with other entries for %s", f.Name))
		}
	}

	return issues
}

func normalizeMisc(m *Misc) []*ConfigurationError {
	var issues []*ConfigurationError
	seen := make(map[string]bool)

	for i := range m.Headers {
		h := &m.Headers[i]
		h.Name = strings.TrimSpace(h.Name)
		h.Value = strings.TrimSpace(h.Value)
		key := fmt.Sprintf("headers[%d]", i)

		var reason string
		switch {
		case !httpguts.ValidHeaderFieldName(h.Name):
			reason = fmt.Sprintf("invalid header name %q", h.Name)
		case isReserved(h.Name):
			reason = fmt.Sprintf("%s is managed by its own family and cannot be set as a misc header", h.Name)
		case seen[strings.ToLower(h.Name)]:
			reason = fmt.Sprintf("duplicate header %q", h.Name)
		case h.Enabled && h.Value == "":
			reason = fmt.Sprintf("header %q is enabled with an empty value", h.Name)
		case !httpguts.ValidHeaderFieldValue(h.Value):
			reason = fmt.Sprintf("invalid value for header %q", h.Name)
		}
		seen[strings.ToLower(h.Name)] = true

		if reason != "" {
			issues = append(issues, issue(FamilyMisc, key, SeverityError, "%s", reason))
			h.Enabled = false
		}
	}

	return issues
}

func isReserved(name string) bool {
	for _, r := range reservedHeaders {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

func dedupe(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func containsNone(tokens []string) bool {
	for _, t := range tokens {
		if strings.EqualFold(strings.Trim(t, "'"), "none") {
			return true
		}
	}
	return false
}

// validSourceToken rejects anything that would break out of a directive.
func validSourceToken(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r <= ' ' || r == 0x7f || r == ';' || r == ',' {
			return false
		}
	}
	return true
}

func validReportURI(uri string) bool {
	if !validSourceToken(uri) {
		return false
	}
	if strings.HasPrefix(uri, "/") {
		return true
	}
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func normalizeAllowToken(tok string) string {
	tok = strings.TrimSpace(tok)
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') && tok[len(tok)-1] == tok[0] {
		tok = tok[1 : len(tok)-1]
	}
	switch strings.ToLower(tok) {
	case "self", "src", "none", "*":
		return strings.ToLower(tok)
	}
	return tok
}

func validAllowToken(tok string) bool {
	switch tok {
	case "self", "src", "none", "*":
		return true
	}
	if !validSourceToken(tok) || strings.ContainsAny(tok, `"()`) {
		return false
	}
	u, err := url.Parse(tok)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" && (u.Path == "" || u.Path == "/")
}
