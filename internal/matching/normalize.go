package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ocrConfusions maps glyphs that receipt OCR engines routinely misread onto
// the letter they usually stand for. Applied after lowercasing.
var ocrConfusions = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"5", "s",
	"8", "b",
	"6", "g",
	"2", "z",
	"€", "e",
)

// glyphMerges collapses two-letter sequences that low-resolution scans render
// as a single glyph.
var glyphMerges = strings.NewReplacer(
	"rn", "m",
	"cl", "d",
	"ri", "n",
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes free text for matching and dedup keys: trim,
// lowercase, strip diacritics, substitute OCR-confusable glyphs, then collapse
// every non-alphanumeric run to a single space. Idempotent.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = ocrConfusions.Replace(s)
	// A merge can expose another pattern at the seam ("rri" -> "rn" -> "m"),
	// so run to a fixpoint. Every pass shortens the string, so this terminates.
	for {
		merged := glyphMerges.Replace(s)
		if merged == s {
			break
		}
		s = merged
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
