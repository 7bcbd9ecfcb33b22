// Package logutil keeps secrets and oversized DOM text out of structured logs.
package logutil

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	redacted        = "[REDACTED]"
	truncatedSuffix = "... [truncated]"
)

// sensitiveMarkers are matched against field names, labels and selectors after
// lowercasing and dropping '-', '_' and spaces.
var sensitiveMarkers = []string{
	"password", "passwd", "passcode",
	"token", "secret", "apikey",
	"cookie", "auth",
	"otp", "cvv", "cardnumber",
}

func normalizeField(s string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// IsSensitiveLogField reports whether a key, element label or selector likely
// names a secret.
func IsSensitiveLogField(key string) bool {
	n := normalizeField(key)
	if n == "" {
		return false
	}
	for _, m := range sensitiveMarkers {
		if strings.Contains(n, m) {
			return true
		}
	}
	return false
}

// IsSensitiveTarget reports whether an element's label or selector names a secret.
func IsSensitiveTarget(label, selector string) bool {
	return IsSensitiveLogField(label) || IsSensitiveLogField(selector)
}

// RedactValue hides a typed value when the field label or selector looks sensitive.
// Both are checked, so `input[type=password]` is redacted even without a label.
func RedactValue(label, selector, value string) string {
	if value == "" {
		return ""
	}
	if IsSensitiveTarget(label, selector) {
		return redacted
	}
	return value
}

// FormatHeadersForLog returns headers as sorted `name="v1, v2"` pairs with
// sensitive values redacted.
func FormatHeadersForLog(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}
	var b strings.Builder
	for i, k := range slices.Sorted(maps.Keys(headers)) {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		values := headers.Values(k)
		switch {
		case len(values) == 0:
			b.WriteString("<empty>")
		case IsSensitiveLogField(k):
			b.WriteString(strconv.Quote(redacted))
		default:
			b.WriteString(strconv.Quote(strings.Join(values, ", ")))
		}
	}
	return b.String()
}

// RedactBodyForLog redacts secrets in JSON payloads. Besides sensitive keys, an
// object's "value" is hidden when its "label", "selector" or "candidates" point
// at a sensitive field, which covers element_act calls filling a password.
// Non-JSON bodies are returned as-is.
func RedactBodyForLog(contentType string, body []byte) string {
	text := string(body)
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return text
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return text
	}
	scrub(payload)
	safe, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(safe)
}

func scrub(v any) {
	switch typed := v.(type) {
	case map[string]any:
		if _, ok := typed["value"]; ok && targetsSecret(typed) {
			typed["value"] = redacted
		}
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = redacted
				continue
			}
			scrub(child)
		}
	case []any:
		for _, child := range typed {
			scrub(child)
		}
	}
}

// targetsSecret reports whether an action payload addresses a sensitive element.
func targetsSecret(obj map[string]any) bool {
	for _, key := range []string{"label", "selector"} {
		if s, ok := obj[key].(string); ok && IsSensitiveLogField(s) {
			return true
		}
	}
	cands, _ := obj["candidates"].([]any)
	for _, c := range cands {
		if s, ok := c.(string); ok && IsSensitiveLogField(s) {
			return true
		}
	}
	return false
}

// FormatBodyForLog truncates to maxBytes and redacts body text for safe logging.
func FormatBodyForLog(contentType string, body []byte, maxBytes int, truncated bool) string {
	if len(body) == 0 {
		return ""
	}
	if maxBytes > 0 && len(body) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}
	text := RedactBodyForLog(contentType, body)
	if truncated {
		text += " [truncated]"
	}
	return text
}

// TruncateForLog returns a single-line preview of at most maxChars runes, for
// DOM text and response snippets.
func TruncateForLog(value string, maxChars int) string {
	line := strings.ReplaceAll(strings.TrimSpace(value), "\n", `\n`)
	if line == "" || maxChars <= 0 || utf8.RuneCountInString(line) <= maxChars {
		return line
	}
	runes := []rune(line)
	return string(runes[:maxChars]) + truncatedSuffix
}
