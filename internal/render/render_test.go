package render

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterFormatting(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Header("session %s", "abc")
	w.Section("steps")
	w.Item("%s %s", StatusIcon("completed"), "port-scan")
	w.Nested("attempt %d", 2)
	w.Line()

	out := buf.String()
	for _, want := range []string{"SESSION ABC", "STEPS:", "  ✓ port-scan", "    └─ attempt 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusIcon(t *testing.T) {
	cases := map[string]string{
		"completed": "✓",
		"failed":    "✗",
		"skipped":   "→",
		"cancelled": "⊘",
		"running":   "…",
		"weird":     "•",
	}
	for status, want := range cases {
		if got := StatusIcon(status); got != want {
			t.Errorf("StatusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short, 10) = %q", got)
	}
	if got := Truncate("a long description here", 10); got != "a long ..." {
		t.Errorf("Truncate long = %q", got)
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Errorf("Truncate tiny = %q", got)
	}
}

func TestBoolIcon(t *testing.T) {
	if BoolIcon(true) != "✓" || BoolIcon(false) != "✗" {
		t.Error("BoolIcon wrong")
	}
}
