// Package util holds small string helpers shared by the CLI output.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

// Truncate shortens s to at most maxLen runes, ending in Ellipsis when cut.
// It does not understand escape codes; use TruncateStyled for rendered text.
func Truncate(s string, maxLen int) string {
	if maxLen <= len(Ellipsis) {
		return Ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(Ellipsis)]) + Ellipsis
}

// TruncateStyled shortens rendered text to maxWidth terminal columns. Escape
// codes are preserved and wide characters count by their display width.
func TruncateStyled(s string, maxWidth int) string {
	if maxWidth <= len(Ellipsis) {
		return Ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}
