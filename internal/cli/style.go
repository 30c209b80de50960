package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/roach88/trcr/internal/ir"
)

var (
	styleCritical = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9"))
	styleHigh     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	styleMedium   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleLow      = lipgloss.NewStyle().Faint(true)
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFail     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// colorEnabled reports whether w is a terminal that accepts ANSI styling.
// NO_COLOR disables styling regardless.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (f *OutputFormatter) paint(s lipgloss.Style, text string) string {
	if !f.Color {
		return text
	}
	return s.Render(text)
}

// severity pads the label to a fixed column before styling so that
// escape codes do not break alignment.
func (f *OutputFormatter) severity(s ir.Severity) string {
	label := fmt.Sprintf("%-8s", s)
	switch s {
	case ir.SeverityCritical:
		return f.paint(styleCritical, label)
	case ir.SeverityHigh:
		return f.paint(styleHigh, label)
	case ir.SeverityMedium:
		return f.paint(styleMedium, label)
	case ir.SeverityLow:
		return f.paint(styleLow, label)
	default:
		return label
	}
}

// mark renders the pass/fail marker.
func (f *OutputFormatter) mark(ok bool) string {
	if ok {
		return f.paint(styleOK, "✓")
	}
	return f.paint(styleFail, "✗")
}

func (f *OutputFormatter) warn(text string) string {
	return f.paint(styleWarn, text)
}
