// Package sanitize cleans free-text run metadata before it is stored. Run
// labels come from MCP clients and are echoed back into their context, so
// markup and control characters are stripped on the way in.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxLabelLength is the maximum allowed length for a run label.
const MaxLabelLength = 120

// MaxIDLength is the maximum allowed length for an entity or run id.
const MaxIDLength = 64

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reBackticks = regexp.MustCompile("`+")

	reSpaces = regexp.MustCompile(`\s+`)
)

// SanitizeLabel returns label on a single line with tags, backticks and
// control characters removed, whitespace collapsed and the result truncated
// to MaxLabelLength bytes without splitting a rune.
func SanitizeLabel(label string) string {
	if label == "" {
		return ""
	}

	s := stripControlChars(label)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reBackticks.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) > MaxLabelLength {
		cut := MaxLabelLength
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

// SanitizeID keeps only [a-zA-Z0-9-_] and truncates to MaxIDLength.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > MaxIDLength {
		s = s[:MaxIDLength]
	}
	return s
}

// stripControlChars replaces ASCII control characters and DEL with spaces
// so that words on either side of a newline stay separated.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			if r == '\n' || r == '\t' || r == '\r' {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
