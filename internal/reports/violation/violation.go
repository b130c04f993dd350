// Package violation defines the stored form of a CSP violation report and the
// storage contract shared by the report backends.
package violation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// MaxSampleLength bounds the stored script sample. Browsers send at most 40
// characters; anything longer did not come from a browser.
const MaxSampleLength = 256

// Report is a normalized CSP violation, whichever wire format delivered it.
type Report struct {
	ID                 string    `json:"id"`
	Action             string    `json:"action"`
	ReceivedAt         time.Time `json:"received_at"`
	UserAgent          string    `json:"user_agent,omitempty"`
	DocumentURI        string    `json:"document_uri" validate:"required,max=2048"`
	Referrer           string    `json:"referrer,omitempty" validate:"max=2048"`
	BlockedURI         string    `json:"blocked_uri,omitempty" validate:"max=2048"`
	ViolatedDirective  string    `json:"violated_directive,omitempty" validate:"required_without=EffectiveDirective,max=256"`
	EffectiveDirective string    `json:"effective_directive,omitempty" validate:"max=256"`
	OriginalPolicy     string    `json:"original_policy,omitempty" validate:"max=16384"`
	Disposition        string    `json:"disposition,omitempty" validate:"omitempty,oneof=enforce report"`
	SourceFile         string    `json:"source_file,omitempty" validate:"max=2048"`
	LineNumber         int       `json:"line_number,omitempty" validate:"gte=0"`
	ColumnNumber       int       `json:"column_number,omitempty" validate:"gte=0"`
	StatusCode         int       `json:"status_code,omitempty" validate:"gte=0,lte=999"`
	ScriptSample       string    `json:"script_sample,omitempty" validate:"max=256"`
}

// Directive returns the directive that was violated, preferring the effective one.
func (r *Report) Directive() string {
	if r.EffectiveDirective != "" {
		return r.EffectiveDirective
	}
	return r.ViolatedDirective
}

var (
	validate     *validator.Validate
	validateOnce sync.Once

	samplePolicy = bluemonday.StrictPolicy()
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks that a report carries the fields needed to act on it.
func Validate(r *Report) error {
	if err := getValidator().Struct(r); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	return nil
}

// Sanitize strips markup from the script sample and trims every field. The
// sample is attacker-influenced and ends up in dashboards.
func Sanitize(r *Report) {
	r.DocumentURI = strings.TrimSpace(r.DocumentURI)
	r.Referrer = strings.TrimSpace(r.Referrer)
	r.BlockedURI = strings.TrimSpace(r.BlockedURI)
	r.ViolatedDirective = strings.TrimSpace(r.ViolatedDirective)
	r.EffectiveDirective = strings.TrimSpace(r.EffectiveDirective)
	r.Disposition = strings.ToLower(strings.TrimSpace(r.Disposition))
	r.SourceFile = strings.TrimSpace(r.SourceFile)

	sample := samplePolicy.Sanitize(r.ScriptSample)
	if len(sample) > MaxSampleLength {
		// cut on a rune boundary
		n := MaxSampleLength
		for n > 0 && !utf8.RuneStart(sample[n]) {
			n--
		}
		sample = sample[:n]
	}
	r.ScriptSample = strings.TrimSpace(sample)
}

// Stats holds report store statistics
type Stats struct {
	Stored        int64  `json:"stored"`
	TotalReceived int64  `json:"total_received"`
	Store         string `json:"store"`
}

// Store defines the interface for report storage
type Store interface {
	// Add stores a report, evicting the oldest one when the store is full
	Add(ctx context.Context, r *Report) error

	// List returns up to limit reports, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Report, error)

	// Count returns the number of stored reports
	Count(ctx context.Context) (int64, error)

	// Clear removes every stored report
	Clear(ctx context.Context) error

	// Stats returns store statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the store's resources
	Close() error
}
