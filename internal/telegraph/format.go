package telegraph

import "strings"

// Color constants for notice severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// SeverityColor maps a severity to a sidebar color.
func SeverityColor(severity Severity) string {
	switch severity {
	case SeveritySuccess:
		return ColorSuccess
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// severityIcon is the terminal prefix for a severity.
func severityIcon(severity Severity) string {
	switch severity {
	case SeveritySuccess:
		return "[ok]"
	case SeverityWarning:
		return "[!]"
	case SeverityError:
		return "[x]"
	default:
		return "[i]"
	}
}

// FormatText renders a notice as a single plain-text block.
func FormatText(n Notice) string {
	var b strings.Builder
	b.WriteString(severityIcon(n.Severity))
	b.WriteString(" ")
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString(": ")
		b.WriteString(n.Body)
	}
	return b.String()
}
