package policy

import (
	"testing"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func cspOnly(c settings.CSP) *settings.Snapshot {
	return &settings.Snapshot{CSP: c}
}

func TestCompose_CSP(t *testing.T) {
	tests := []struct {
		name  string
		csp   settings.CSP
		nonce string
		want  []Header
	}{
		{
			name: "nonce appended to script-src",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives:  []settings.Directive{{Name: "script-src", Sources: []string{"self"}}},
			},
			nonce: "n1",
			want:  []Header{{HeaderCSP, "script-src 'self' 'nonce-n1'"}},
		},
		{
			name: "nonce appended to script-src and style-src",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives: []settings.Directive{
					{Name: "default-src", Sources: []string{"self"}},
					{Name: "script-src", Sources: []string{"self", "https://cdn.example.com"}},
					{Name: "style-src", Sources: []string{"self"}},
				},
			},
			nonce: "n1",
			want: []Header{{HeaderCSP,
				"default-src 'self'; script-src 'self' https://cdn.example.com 'nonce-n1'; style-src 'self' 'nonce-n1'"}},
		},
		{
			name: "default-src receives the nonce when style-src is missing",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives: []settings.Directive{
					{Name: "default-src", Sources: []string{"self"}},
					{Name: "script-src", Sources: []string{"self"}},
				},
			},
			nonce: "n1",
			want:  []Header{{HeaderCSP, "default-src 'self' 'nonce-n1'; script-src 'self' 'nonce-n1'"}},
		},
		{
			name: "default-src receives the nonce once when both are missing",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives:  []settings.Directive{{Name: "default-src", Sources: []string{"self"}}},
			},
			nonce: "n1",
			want:  []Header{{HeaderCSP, "default-src 'self' 'nonce-n1'"}},
		},
		{
			name: "no directive is fabricated",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives:  []settings.Directive{{Name: "img-src", Sources: []string{"self"}}},
			},
			nonce: "n1",
			want:  []Header{{HeaderCSP, "img-src 'self'"}},
		},
		{
			name: "none stays deny-all",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives: []settings.Directive{
					{Name: "default-src", Sources: []string{"'none'"}},
					{Name: "script-src", Sources: []string{"none"}},
					{Name: "style-src", Sources: []string{"self"}},
				},
			},
			nonce: "n1",
			want:  []Header{{HeaderCSP, "default-src 'none'; script-src 'none'; style-src 'self' 'nonce-n1'"}},
		},
		{
			name: "absent nonce",
			csp: settings.CSP{
				Enabled:     true,
				InjectNonce: true,
				Directives:  []settings.Directive{{Name: "script-src", Sources: []string{"self"}}},
			},
			want: []Header{{HeaderCSP, "script-src 'self'"}},
		},
		{
			name: "injection disabled",
			csp: settings.CSP{
				Enabled:    true,
				Directives: []settings.Directive{{Name: "script-src", Sources: []string{"self"}}},
			},
			nonce: "n1",
			want:  []Header{{HeaderCSP, "script-src 'self'"}},
		},
		{
			name: "report only with report uri",
			csp: settings.CSP{
				Enabled:    true,
				ReportOnly: true,
				ReportURI:  "/_/reports/csp-endpoint/report",
				Directives: []settings.Directive{{Name: "default-src", Sources: []string{"none"}}},
			},
			want: []Header{{HeaderCSPReportOnly, "default-src 'none'; report-uri /_/reports/csp-endpoint/report"}},
		},
		{
			name: "valueless directive",
			csp: settings.CSP{
				Enabled: true,
				Directives: []settings.Directive{
					{Name: "default-src", Sources: []string{"'self'"}},
					{Name: "upgrade-insecure-requests"},
				},
			},
			want: []Header{{HeaderCSP, "default-src 'self'; upgrade-insecure-requests"}},
		},
		{
			name: "disabled family",
			csp: settings.CSP{
				Enabled:    false,
				Directives: []settings.Directive{{Name: "default-src", Sources: []string{"self"}}},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(cspOnly(tt.csp), Input{Nonce: tt.nonce})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compose() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompose_NeverBothCSPHeaders(t *testing.T) {
	for _, reportOnly := range []bool{true, false} {
		snap := cspOnly(settings.CSP{
			Enabled:    true,
			ReportOnly: reportOnly,
			Directives: []settings.Directive{{Name: "default-src", Sources: []string{"self"}}},
		})

		var csp, ro int
		for _, h := range Compose(snap, Input{Nonce: "x", Secure: true}) {
			switch h.Name {
			case HeaderCSP:
				csp++
			case HeaderCSPReportOnly:
				ro++
			}
		}
		assert.Equal(t, 1, csp+ro)
	}
}

func TestCompose_HSTS(t *testing.T) {
	tests := []struct {
		name   string
		hsts   settings.HSTS
		secure bool
		want   []Header
	}{
		{
			name:   "include subdomains",
			hsts:   settings.HSTS{Enabled: true, MaxAge: 31536000, IncludeSubdomains: true},
			secure: true,
			want:   []Header{{HeaderHSTS, "max-age=31536000; includeSubDomains"}},
		},
		{
			name:   "all clauses",
			hsts:   settings.HSTS{Enabled: true, MaxAge: 63072000, IncludeSubdomains: true, Preload: true},
			secure: true,
			want:   []Header{{HeaderHSTS, "max-age=63072000; includeSubDomains; preload"}},
		},
		{
			name:   "max-age only",
			hsts:   settings.HSTS{Enabled: true, MaxAge: 0},
			secure: true,
			want:   []Header{{HeaderHSTS, "max-age=0"}},
		},
		{
			name:   "insecure transport",
			hsts:   settings.HSTS{Enabled: true, MaxAge: 31536000, IncludeSubdomains: true},
			secure: false,
			want:   nil,
		},
		{
			name:   "disabled",
			hsts:   settings.HSTS{MaxAge: 31536000},
			secure: true,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(&settings.Snapshot{HSTS: tt.hsts}, Input{Secure: tt.secure})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compose() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPermissionsPolicy(t *testing.T) {
	tests := []struct {
		name     string
		features []settings.Feature
		want     string
	}{
		{
			name:     "empty allow-list denies",
			features: []settings.Feature{{Name: "camera", Allow: nil}},
			want:     "camera=()",
		},
		{
			name:     "explicit none",
			features: []settings.Feature{{Name: "camera", Allow: []string{"none"}}},
			want:     "camera=()",
		},
		{
			name:     "self and origins",
			features: []settings.Feature{{Name: "geolocation", Allow: []string{"self", "https://maps.example.com"}}},
			want:     `geolocation=(self "https://maps.example.com")`,
		},
		{
			name:     "wildcard",
			features: []settings.Feature{{Name: "fullscreen", Allow: []string{"*"}}},
			want:     "fullscreen=*",
		},
		{
			name: "several features keep order",
			features: []settings.Feature{
				{Name: "microphone"},
				{Name: "camera", Allow: []string{"self"}},
			},
			want: "microphone=(), camera=(self)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PermissionsPolicy(settings.PermissionsPolicy{Enabled: true, Features: tt.features})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompose_Ordering(t *testing.T) {
	snap := &settings.Snapshot{
		Misc: settings.Misc{
			Enabled: true,
			Headers: []settings.MiscHeader{
				{Name: "X-Frame-Options", Value: "DENY", Enabled: true},
				{Name: "X-XSS-Protection", Value: "0", Enabled: false},
				{Name: "X-Content-Type-Options", Value: "nosniff", Enabled: true},
			},
		},
		PermissionsPolicy: settings.PermissionsPolicy{
			Enabled:  true,
			Features: []settings.Feature{{Name: "camera"}},
		},
		HSTS: settings.HSTS{Enabled: true, MaxAge: 300},
		CSP: settings.CSP{
			Enabled:    true,
			Directives: []settings.Directive{{Name: "default-src", Sources: []string{"self"}}},
		},
	}

	want := []Header{
		{HeaderCSP, "default-src 'self'"},
		{HeaderHSTS, "max-age=300"},
		{HeaderPermissionsPolicy, "camera=()"},
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
	}

	got := Compose(snap, Input{Secure: true})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compose() mismatch (-want +got):\n%s", diff)
	}

	// deterministic across calls
	for i := 0; i < 10; i++ {
		assert.Equal(t, got, Compose(snap, Input{Secure: true}))
	}
}

func TestCompose_MiscFamilyDisabled(t *testing.T) {
	snap := &settings.Snapshot{
		Misc: settings.Misc{
			Enabled: false,
			Headers: []settings.MiscHeader{{Name: "X-Frame-Options", Value: "DENY", Enabled: true}},
		},
	}
	assert.Empty(t, Compose(snap, Input{}))
	assert.Nil(t, Compose(nil, Input{}))
}

func TestQuoteSource(t *testing.T) {
	tests := map[string]string{
		"self":                "'self'",
		"SELF":                "'self'",
		"'self'":              "'self'",
		"unsafe-inline":       "'unsafe-inline'",
		"strict-dynamic":      "'strict-dynamic'",
		"nonce-abc":           "'nonce-abc'",
		"sha256-AbC=":         "'sha256-AbC='",
		"https://cdn.example": "https://cdn.example",
		"data:":               "data:",
		"*.example.com":       "*.example.com",
		"self.example.com":    "self.example.com",
	}

	for in, want := range tests {
		assert.Equal(t, want, QuoteSource(in), in)
	}
}
