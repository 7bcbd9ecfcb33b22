// Package driver holds what the browser drivers share: selector classification.
// The drivers themselves live in subpackages.
package driver

import (
	"fmt"
	"strings"
)

// SelectorKind says which engine a selector string is meant for.
type SelectorKind int

const (
	CSS SelectorKind = iota
	XPath
	Text
)

// Classify splits a selector into its kind and the expression to evaluate.
//
//	xpath=//input, //input, (//a)[2]  XPath
//	text=Save                         Text (match on normalized text content)
//	anything else                     CSS
func Classify(selector string) (SelectorKind, string) {
	sel := strings.TrimSpace(selector)
	switch {
	case strings.HasPrefix(sel, "xpath="):
		return XPath, strings.TrimPrefix(sel, "xpath=")
	case strings.HasPrefix(sel, "/"), strings.HasPrefix(sel, "("):
		return XPath, sel
	case strings.HasPrefix(sel, "text="):
		return Text, strings.Trim(strings.TrimPrefix(sel, "text="), `"'`)
	default:
		return CSS, sel
	}
}

// TextXPath returns an XPath matching the innermost elements whose normalized
// text contains text.
func TextXPath(text string) string {
	return fmt.Sprintf(`//*[contains(normalize-space(.), %s)][not(*[contains(normalize-space(.), %s)])]`,
		xpathLiteral(text), xpathLiteral(text))
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	case !strings.Contains(s, `'`):
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(quoted, `, '"', `) + ")"
}
