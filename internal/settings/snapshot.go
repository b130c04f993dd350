package settings

// Family identifiers, used as redis hash suffixes and in diagnostics.
const (
	FamilyCSP               = "csp"
	FamilyHSTS              = "hsts"
	FamilyPermissionsPolicy = "permissions_policy"
	FamilyMisc              = "misc"
)

// Families lists every header family in composition order.
var Families = []string{FamilyCSP, FamilyHSTS, FamilyPermissionsPolicy, FamilyMisc}

// Snapshot is an immutable read of the header settings. Callers must treat a
// snapshot obtained from a Provider as read-only and use Clone before changing it.
type Snapshot struct {
	CSP               CSP               `mapstructure:"csp" json:"csp"`
	HSTS              HSTS              `mapstructure:"hsts" json:"hsts"`
	PermissionsPolicy PermissionsPolicy `mapstructure:"permissions_policy" json:"permissions_policy"`
	Misc              Misc              `mapstructure:"misc" json:"misc"`
}

// CSP holds the Content-Security-Policy family
type CSP struct {
	Enabled     bool        `mapstructure:"enabled" json:"enabled"`
	InjectNonce bool        `mapstructure:"inject_nonce" json:"inject_nonce"`
	ReportOnly  bool        `mapstructure:"report_only" json:"report_only"`
	ReportURI   string      `mapstructure:"report_uri" json:"report_uri,omitempty"`
	Directives  []Directive `mapstructure:"directives" json:"directives"`
}

// Directive is one CSP directive with its source list, kept in configuration order.
type Directive struct {
	Name    string   `mapstructure:"name" json:"name"`
	Sources []string `mapstructure:"sources" json:"sources"`
}

// HSTS holds the Strict-Transport-Security family
type HSTS struct {
	Enabled           bool  `mapstructure:"enabled" json:"enabled"`
	MaxAge            int64 `mapstructure:"max_age" json:"max_age"`
	IncludeSubdomains bool  `mapstructure:"include_subdomains" json:"include_subdomains"`
	Preload           bool  `mapstructure:"preload" json:"preload"`
}

// PermissionsPolicy holds the Permissions-Policy family
type PermissionsPolicy struct {
	Enabled  bool      `mapstructure:"enabled" json:"enabled"`
	Features []Feature `mapstructure:"features" json:"features"`
}

// Feature is one Permissions-Policy feature with its allow-list.
type Feature struct {
	Name  string   `mapstructure:"name" json:"name"`
	Allow []string `mapstructure:"allow" json:"allow"`
}

// Misc holds independent hardening headers emitted verbatim.
type Misc struct {
	Enabled bool         `mapstructure:"enabled" json:"enabled"`
	Headers []MiscHeader `mapstructure:"headers" json:"headers"`
}

// MiscHeader is a single on/off header.
type MiscHeader struct {
	Name    string `mapstructure:"name" json:"name"`
	Value   string `mapstructure:"value" json:"value"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

// Default returns the settings used when nothing is configured.
func Default() *Snapshot {
	return &Snapshot{
		CSP: CSP{
			Enabled:     true,
			InjectNonce: true,
			ReportURI:   "/_/reports/csp-endpoint/report",
			Directives: []Directive{
				{Name: "default-src", Sources: []string{"self"}},
				{Name: "script-src", Sources: []string{"self"}},
				{Name: "style-src", Sources: []string{"self"}},
				{Name: "img-src", Sources: []string{"self", "data:"}},
				{Name: "object-src", Sources: []string{"none"}},
				{Name: "base-uri", Sources: []string{"self"}},
				{Name: "frame-ancestors", Sources: []string{"self"}},
			},
		},
		HSTS: HSTS{
			Enabled:           true,
			MaxAge:            31536000,
			IncludeSubdomains: true,
		},
		PermissionsPolicy: PermissionsPolicy{
			Enabled: true,
			Features: []Feature{
				{Name: "camera"},
				{Name: "microphone"},
				{Name: "geolocation"},
			},
		},
		Misc: Misc{
			Enabled: true,
			Headers: []MiscHeader{
				{Name: "X-Content-Type-Options", Value: "nosniff", Enabled: true},
				{Name: "X-Frame-Options", Value: "SAMEORIGIN", Enabled: true},
				{Name: "Referrer-Policy", Value: "strict-origin-when-cross-origin", Enabled: true},
			},
		},
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s

	if s.CSP.Directives != nil {
		out.CSP.Directives = make([]Directive, len(s.CSP.Directives))
		for i, d := range s.CSP.Directives {
			out.CSP.Directives[i] = Directive{Name: d.Name, Sources: append([]string(nil), d.Sources...)}
		}
	}

	if s.PermissionsPolicy.Features != nil {
		out.PermissionsPolicy.Features = make([]Feature, len(s.PermissionsPolicy.Features))
		for i, f := range s.PermissionsPolicy.Features {
			out.PermissionsPolicy.Features[i] = Feature{Name: f.Name, Allow: append([]string(nil), f.Allow...)}
		}
	}

	out.Misc.Headers = append([]MiscHeader(nil), s.Misc.Headers...)
	return &out
}

// Directive returns the named CSP directive, if configured.
func (c *CSP) Directive(name string) (Directive, bool) {
	for _, d := range c.Directives {
		if d.Name == name {
			return d, true
		}
	}
	return Directive{}, false
}

// HasDirective reports whether the named CSP directive is configured.
func (c *CSP) HasDirective(name string) bool {
	_, ok := c.Directive(name)
	return ok
}
