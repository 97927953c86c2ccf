// Package sanitize cleans editor HTML before it is persisted.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

// newPolicy is the UGC policy plus the class names and inline images the rich-text
// editor produces
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^(ql-[a-z0-9-]+)( ql-[a-z0-9-]+)*$`)).Globally()
	p.AllowAttrs("spellcheck").Matching(regexp.MustCompile(`^(true|false)$`)).OnElements("pre")
	p.AllowDataURIImages()
	return p
}

// HTML strips scripts, event handlers and unsafe URLs from editor content
func HTML(content string) string {
	if content == "" {
		return ""
	}
	return policy.Sanitize(content)
}

// Title trims a document title; titles are stored as plain text
func Title(title string) string {
	return strings.TrimSpace(title)
}
