package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separator is the normalized form of a multi-face name separator.
const Separator = "//"

// punctuationReplacer unifies typographic variants that OCR engines emit.
var punctuationReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "ʼ", "'", "`", "'", "´", "'",
	"“", "\"", "”", "\"",
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-",
	"⁄", "/", "∕", "/", "|", "/",
	"Æ", "Ae", "æ", "ae",
)

// Normalize returns the comparison form of s. Letters and digits survive,
// apostrophes are dropped, any run of slashes becomes the "//" separator, and
// every other character becomes a single space.
func Normalize(s string) string {
	s = punctuationReplacer.Replace(s)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	slash := false
	for _, r := range s {
		switch {
		case r == '/':
			if !slash {
				b.WriteString(" " + Separator + " ")
			}
			slash = true
			space = true
			continue
		case r == '\'':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
			}
			space = true
		}
		slash = false
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits a normalized string into words, skipping face separators.
func Tokens(normalized string) []string {
	fields := strings.Fields(normalized)
	out := fields[:0]
	for _, f := range fields {
		if f != Separator {
			out = append(out, f)
		}
	}
	return out
}

// Faces splits a normalized name on the face separator.
func Faces(normalized string) []string {
	parts := strings.Split(normalized, Separator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
