package dedup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// deaccent decomposes accented characters and strips the combining marks, so
// "café" and "cafe" normalize to the same token instead of losing the letter.
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize standardizes description text for lexical comparison by:
//  1. Folding accented characters to their ASCII base
//  2. Lowercasing
//  3. Replacing every non-alphanumeric run with a single space
//  4. Collapsing whitespace and trimming the ends
//
// It is pure and total: any input produces a normalized string, and
// normalizing an already-normalized string returns it unchanged.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	if folded, _, err := transform.String(deaccent, text); err == nil {
		text = folded
	}

	text = strings.ToLower(text)
	text = nonAlnumRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// Tokens splits normalized text into its distinct tokens.
func Tokens(normalized string) []string {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
