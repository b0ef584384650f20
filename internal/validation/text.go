// Package validation checks and cleans user input before it is stored: free text is run
// through bluemonday, email addresses are parsed, and release names are compared as
// semantic versions.
package validation

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()
	ugc    = bluemonday.UGCPolicy()

	// strict escapes these; plain-text fields keep them literal.
	unescape = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`)
)

// Text strips all markup from a single-line field such as a name.
func Text(s string) string {
	return strings.TrimSpace(unescape.Replace(strict.Sanitize(s)))
}

// TextPtr applies Text to an optional field. Blank input becomes nil.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := Text(*s)
	if out == "" {
		return nil
	}
	return &out
}

// Notes keeps basic formatting in free-text notes and descriptions but drops scripts,
// event handlers and unsafe links.
func Notes(s *string) *string {
	if s == nil {
		return nil
	}
	out := strings.TrimSpace(ugc.Sanitize(*s))
	if out == "" {
		return nil
	}
	return &out
}
