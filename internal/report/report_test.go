package report

import (
	"bytes"
	"strings"
	"testing"

	"conclave/internal/executor"
	"conclave/internal/modules"
)

func plainPrinter(buf *bytes.Buffer, redact func(string) string) *Printer {
	p := NewPrinter(buf, redact)
	p.Color = false
	return p
}

func TestRecapAlignsAndCounts(t *testing.T) {
	sum := executor.NewSummary()
	sum.Record("web-1", modules.StatusOK)
	sum.Record("web-1", modules.StatusChanged)
	sum.Record("db-primary", modules.StatusFailed)
	sum.Record("db-primary", modules.StatusSkipped)

	var buf bytes.Buffer
	plainPrinter(&buf, nil).Recap(sum)
	out := buf.String()

	if !strings.Contains(out, "PLAY RECAP") {
		t.Fatal("missing recap heading")
	}
	if !strings.Contains(out, "db-primary : ok=0  changed=0  unreachable=0  failed=1  skipped=1") {
		t.Fatalf("db-primary line wrong:\n%s", out)
	}
	if !strings.Contains(out, "web-1      : ok=2  changed=1") {
		t.Fatalf("web-1 line not aligned to widest host name:\n%s", out)
	}
	// Hosts sort by name: db-primary before web-1.
	if strings.Index(out, "db-primary") > strings.Index(out, "web-1") {
		t.Fatal("hosts not sorted")
	}
}

func TestFailureBlockRedacts(t *testing.T) {
	redact := func(s string) string {
		return strings.ReplaceAll(s, "hunter2", "[REDACTED]")
	}
	var buf bytes.Buffer
	p := plainPrinter(&buf, redact)
	p.FailureBlock(executor.Failure{
		Host:    "web-1",
		Task:    "set password",
		Args:    map[string]any{"user": "admin", "extra": "pw is hunter2"},
		Message: "auth failed for hunter2",
		Stderr:  "hunter2: permission denied",
		Retries: 2,
	})
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked into failure block:\n%s", out)
	}
	if !strings.Contains(out, "retries: 2") {
		t.Fatal("retry count missing")
	}
	if !strings.Contains(out, "host: web-1") {
		t.Fatal("host missing")
	}
}

func TestEventPrinterSkipVerbosity(t *testing.T) {
	var buf bytes.Buffer
	ep := &EventPrinter{Printer: plainPrinter(&buf, nil)}

	ep.Emit(executor.Event{Kind: executor.EventTaskResult, Host: "h1", Task: "quiet", Status: modules.StatusSkipped})
	if buf.Len() != 0 {
		t.Fatal("skipped tasks should be silent at verbosity 0")
	}

	ep.Verbosity = 1
	ep.Emit(executor.Event{Kind: executor.EventTaskResult, Host: "h1", Task: "loud", Status: modules.StatusSkipped})
	if !strings.Contains(buf.String(), "skipped: [h1] loud") {
		t.Fatalf("verbose skip line missing: %q", buf.String())
	}
}

func TestTaskLineShape(t *testing.T) {
	var buf bytes.Buffer
	plainPrinter(&buf, nil).TaskLine("h1", "install curl", modules.StatusChanged, "")
	if got := strings.TrimSpace(buf.String()); got != "changed: [h1] install curl" {
		t.Fatalf("task line = %q", got)
	}
}
