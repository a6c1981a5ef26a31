// Package render provides the terminal styling helpers shared by the
// proxyprobe commands: status marks, section headers and the log-level
// colorizer used when printing proxy log entries.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
	dimStyle     = lipgloss.NewStyle().Faint(true)

	levelStyles = map[string]lipgloss.Style{
		"ERROR": errorStyle,
		"WARN":  warnStyle,
		"INFO":  successStyle,
		"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
)

const ruleWidth = 70

// Header prints a section title between horizontal rules.
func Header(text string) string {
	return fmt.Sprintf("\n%s\n%s\n%s", Rule(), headerStyle.Render(text), Rule())
}

// Rule returns a horizontal separator line.
func Rule() string {
	return strings.Repeat("=", ruleWidth)
}

// ThinRule returns a lighter separator line.
func ThinRule() string {
	return strings.Repeat("-", ruleWidth)
}

// Success formats a passing status line.
func Success(text string) string {
	return successStyle.Render("✓ " + text)
}

// Error formats a failing status line.
func Error(text string) string {
	return errorStyle.Render("✗ " + text)
}

// Warn formats a warning status line.
func Warn(text string) string {
	return warnStyle.Render("! " + text)
}

// Info formats an informational status line.
func Info(text string) string {
	return infoStyle.Render("ℹ " + text)
}

// Dim de-emphasizes text (pings, raw payload excerpts).
func Dim(text string) string {
	return dimStyle.Render(text)
}

// Level colorizes a log level tag by severity.
func Level(level string) string {
	if style, ok := levelStyles[strings.ToUpper(level)]; ok {
		return style.Render(fmt.Sprintf("%-5s", strings.ToUpper(level)))
	}
	return fmt.Sprintf("%-5s", level)
}

// Duration renders a duration with probe-appropriate precision.
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// MaskKey hides the middle of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 11 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
