// Package chat implements the client side of a Mira conversation room:
// the streaming websocket, the transcript assembler, and outbound sends.
package chat

import (
	"strings"
)

const (
	// MaxMessageLength caps sanitized message bodies.
	MaxMessageLength = 4000
	// MaxAuthorLength caps sanitized author display names.
	MaxAuthorLength = 128

	truncationMarker = " …"
)

// SanitizeText normalizes a string for display in a transcript: line endings
// become LF, control characters are stripped, the result is capped at max
// runes (truncation replaces the tail with a marker) and trailing whitespace
// is trimmed. The function is idempotent and its output never exceeds max.
//
// Content is never treated as markup, so this is the only defense applied to
// text from the wire.
func SanitizeText(raw string, max int) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(dropControl, text)

	if runes := []rune(text); max > 0 && len(runes) > max {
		marker := []rune(truncationMarker)
		if max > len(marker) {
			text = string(runes[:max-len(marker)]) + truncationMarker
		} else {
			text = string(runes[:max])
		}
	}

	return strings.TrimRight(text, " \t\n")
}

// SanitizeMessage applies the standard message body cap.
func SanitizeMessage(raw string) string {
	return SanitizeText(raw, MaxMessageLength)
}

// SanitizeAuthor applies the shorter author name cap.
func SanitizeAuthor(raw string) string {
	return SanitizeText(raw, MaxAuthorLength)
}

// dropControl removes control characters that break rendering while keeping
// tabs and newlines.
func dropControl(r rune) rune {
	switch {
	case r == '\t' || r == '\n':
		return r
	case r < 0x20 || r == 0x7f:
		return -1
	default:
		return r
	}
}
