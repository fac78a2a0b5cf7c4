package telegraph

import "testing"

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeveritySuccess, ColorSuccess},
		{SeverityInfo, ColorInfo},
		{SeverityWarning, ColorWarning},
		{SeverityError, ColorError},
		{"", ColorInfo},
	}
	for _, tt := range tests {
		if got := SeverityColor(tt.severity); got != tt.want {
			t.Errorf("SeverityColor(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestFormatText(t *testing.T) {
	got := FormatText(Notice{Title: "Removed from Queue", Body: "Reason: no show", Severity: SeverityWarning})
	if got != "[!] Removed from Queue: Reason: no show" {
		t.Errorf("FormatText = %q", got)
	}
	if got := FormatText(Notice{Title: "Done", Severity: SeveritySuccess}); got != "[ok] Done" {
		t.Errorf("FormatText without body = %q", got)
	}
}
