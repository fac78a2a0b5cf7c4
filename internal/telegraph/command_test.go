package telegraph

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTemplateNotice(t *testing.T) {
	n := Notice{Title: "Consultation Starting", Body: "Dr. Mensah is ready to see you now.", Severity: SeverityInfo}
	cmd := "notify-send '{{.Title}}' '{{.Body}}' --urgency={{.Severity}}"
	got := templateNotice(cmd, n)
	want := "notify-send 'Consultation Starting' 'Dr. Mensah is ready to see you now.' --urgency=info"
	if got != want {
		t.Errorf("templateNotice =\n  %q\nwant\n  %q", got, want)
	}
}

func TestTemplateNotice_EmptyFields(t *testing.T) {
	got := templateNotice("{{.Title}} {{.Body}} {{.Severity}}", Notice{})
	if got != "  " {
		t.Errorf("templateNotice = %q, want %q", got, "  ")
	}
}

func TestCommand_RunsTemplate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notice.txt")
	c := Command{Template: "printf '%s|%s' '{{.Title}}' '{{.Severity}}' > " + out}
	if err := c.Notify(context.Background(), Notice{Title: "Ready", Severity: SeverityInfo}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "Ready|info" {
		t.Errorf("output = %q", data)
	}
}

func TestCommand_Failure(t *testing.T) {
	err := Command{Template: "echo boom >&2; exit 3"}.Notify(context.Background(), Notice{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want output in error", err)
	}
}

func TestCommand_EmptyTemplate(t *testing.T) {
	if err := (Command{}).Notify(context.Background(), Notice{Title: "x"}); err != nil {
		t.Errorf("empty template should be a no-op, got %v", err)
	}
}
