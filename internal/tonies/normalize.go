package tonies

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalizeTitle prepares a chapter title for the device: NFC so titles
// from macOS file names match ones typed elsewhere, control characters
// replaced by spaces, surrounding whitespace trimmed.
func normalizeTitle(title string) string {
	title = norm.NFC.String(title)

	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}

		return r
	}, title)

	return strings.TrimSpace(title)
}
