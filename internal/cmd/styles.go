package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/provenance/internal/control"
	"github.com/Iron-Ham/provenance/internal/logging"
)

var (
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	accentColor  = lipgloss.Color("#60A5FA") // Blue

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	accentStyle  = lipgloss.NewStyle().Foreground(accentColor)
)

// styleResponse renders a control response the way the popup colored it.
func styleResponse(resp control.Response) string {
	switch resp.Outcome {
	case control.OutcomeOK:
		return successStyle.Render(resp.Message)
	case control.OutcomeRejected:
		return warningStyle.Render(resp.Message)
	default:
		return errorStyle.Render(resp.Message)
	}
}

// levelStyle returns the style for a log level.
func levelStyle(level string) lipgloss.Style {
	switch logging.ParseLevel(level) {
	case logging.LevelDebug:
		return mutedStyle
	case logging.LevelWarn:
		return warningStyle
	case logging.LevelError:
		return errorStyle
	default:
		return accentStyle
	}
}
