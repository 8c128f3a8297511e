package logger

import (
	"fmt"
	"strings"
)

// MaxValueRunes caps how much of a single user-supplied value reaches the log.
const MaxValueRunes = 256

// SanitizeForLog escapes control characters so a value cannot forge log lines
// or drive the terminal, and shortens it to MaxValueRunes. Printable Unicode
// passes through; invalid UTF-8 becomes U+FFFD.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	n := 0
	for _, r := range s {
		if n == MaxValueRunes {
			b.WriteString("...")
			break
		}
		n++

		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
