// Package strategy resolves element identifiers against the session's
// backend set: classification of the identifier's surface form, an ordered
// strategy catalog, lazy locate iteration with per-value fallback, and
// deadline-driven presence assertion.
package strategy

import "strings"

// Kind is the surface-form classification of an element identifier.
type Kind string

const (
	KindImage Kind = "image"
	KindXPath Kind = "xpath"
	KindText  Kind = "text"
	KindCSS   Kind = "css"
	KindID    Kind = "id"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp"}

// htmlTags are tag names recognized in CSS shorthand like div.cls or a[href].
var htmlTags = map[string]bool{
	"a": true, "body": true, "button": true, "div": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"img": true, "input": true, "label": true, "li": true, "nav": true,
	"option": true, "p": true, "section": true, "select": true, "span": true,
	"table": true, "td": true, "textarea": true, "th": true, "tr": true,
	"ul": true,
}

// Classify maps an identifier to its kind and strips any recognized scheme
// prefix. The rules apply in order; anything unrecognized is Text.
func Classify(value string) (Kind, string) {
	lower := strings.ToLower(value)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return KindImage, value
		}
	}
	if rest, ok := strings.CutPrefix(value, "text="); ok {
		return KindText, rest
	}
	if rest, ok := strings.CutPrefix(value, "css="); ok {
		return KindCSS, rest
	}
	if rest, ok := strings.CutPrefix(value, "xpath="); ok {
		return KindXPath, rest
	}
	if strings.HasPrefix(value, "//") || strings.HasPrefix(value, "/") || strings.HasPrefix(value, "(") {
		return KindXPath, value
	}
	if rest, ok := strings.CutPrefix(value, "id:"); ok {
		return KindID, rest
	}
	if looksLikeCSS(value) {
		return KindCSS, value
	}
	return KindText, value
}

// looksLikeCSS recognizes bracketed attribute selectors, class/id shorthand,
// and tag-qualified selectors.
func looksLikeCSS(value string) bool {
	open := strings.Index(value, "[")
	if open >= 0 && strings.Index(value[open:], "]") > 0 {
		return true
	}
	if strings.HasPrefix(value, "#") || strings.HasPrefix(value, ".") {
		return true
	}
	for i, r := range value {
		if r == '[' || r == '#' || r == '.' {
			return htmlTags[strings.ToLower(value[:i])]
		}
	}
	return false
}
