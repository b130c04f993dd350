// Package inject stamps inline script, style and link tags with a CSP nonce.
//
// The rewrite is pattern based and deliberately not an HTML parser. An opening
// tag ends at the first '>', so a '>' inside a quoted attribute value truncates
// the match, and tags inside comments or script strings are matched too.
package inject

import (
	"regexp"
	"strings"
)

// passes run in this order, each over the output of the previous one
var passes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)<style[^>]*>`),
	regexp.MustCompile(`(?i)<link[^>]*>`),
}

// Injector adds a fixed nonce to matching tags.
type Injector struct {
	attr string
}

// New creates an injector for nonce. The value is inserted unescaped.
func New(nonce string) *Injector {
	return &Injector{attr: ` nonce="` + nonce + `"`}
}

// Inject returns document with every eligible tag stamped with nonce.
func Inject(document, nonce string) string {
	return New(nonce).Inject(document)
}

// Inject returns document with every eligible tag stamped.
func (i *Injector) Inject(document string) string {
	out, _ := i.InjectCount(document)
	return out
}

// InjectCount is Inject that also reports how many tags were stamped.
func (i *Injector) InjectCount(document string) (string, int) {
	if !strings.Contains(document, "<") {
		return document, 0
	}

	stamped := 0
	for _, re := range passes {
		document = re.ReplaceAllStringFunc(document, func(tag string) string {
			out := i.AddNonce(tag)
			if len(out) != len(tag) {
				stamped++
			}
			return out
		})
	}
	return document, stamped
}

// AddNonce inserts the nonce attribute before the closing '>' of tag. A tag
// containing the substring "nonce" anywhere is returned unchanged.
func (i *Injector) AddNonce(tag string) string {
	if strings.Contains(tag, "nonce") || !strings.HasSuffix(tag, ">") {
		return tag
	}
	return tag[:len(tag)-1] + i.attr + ">"
}
