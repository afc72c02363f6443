// Package strings holds small text helpers for the CLI's table output.
package strings

import (
	"strings"
	"unicode"
)

// TableCellWidth is the column width the CLI table renderers use for
// tool and prompt descriptions.
const TableCellWidth = 60

// ellipsis marks a cut line; a single rune, so it costs one column.
const ellipsis = '…'

// OneLine renders s as a single line at most width runes wide. Runs of
// whitespace (newlines included) collapse to one space and leading or
// trailing whitespace is dropped. A line that still overflows is cut at
// the last word boundary in the second half of the window, or mid-word
// when no boundary falls there, and suffixed with an ellipsis. Widths
// count runes, so multi-byte characters are never split.
func OneLine(s string, width int) string {
	if width < 2 {
		width = 2
	}

	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}

	runes := []rune(b.String())
	if len(runes) <= width {
		return string(runes)
	}

	cut := width - 1
	for i := cut; i > width/2; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return string(runes[:cut]) + string(ellipsis)
}
