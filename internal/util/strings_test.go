package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short value unchanged", input: "Enter", maxLen: 10, want: "Enter"},
		{name: "exact length unchanged", input: "Enter", maxLen: 5, want: "Enter"},
		{name: "long value cut", input: "collector unavailable", maxLen: 12, want: "collector..."},
		{name: "tiny limit", input: "Backspace", maxLen: 3, want: "..."},
		{name: "multibyte runes", input: "ééééééé", maxLen: 5, want: "éé..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateStyled(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("batch delivery failed")

	tests := []struct {
		name     string
		input    string
		maxWidth int
	}{
		{name: "plain", input: "batch delivery failed", maxWidth: 10},
		{name: "styled", input: styled, maxWidth: 10},
		{name: "fits", input: "ok", maxWidth: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateStyled(tt.input, tt.maxWidth)
			if w := lipgloss.Width(got); w > tt.maxWidth {
				t.Errorf("TruncateStyled() width = %d, want <= %d (%q)", w, tt.maxWidth, got)
			}
			if lipgloss.Width(tt.input) <= tt.maxWidth && got != tt.input {
				t.Errorf("TruncateStyled() changed a fitting string: %q", got)
			}
		})
	}

	if got := TruncateStyled("anything", 2); got != Ellipsis {
		t.Errorf("TruncateStyled(tiny) = %q, want %q", got, Ellipsis)
	}
}
