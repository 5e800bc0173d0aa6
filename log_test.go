package clovec

import (
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf strings.Builder
	log := NewLogger(LevelWarn, &buf)

	log.Debugf("debug %d", 1)
	log.Infof("info %d", 2)
	log.Warnf("warn %d", 3)
	log.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("below-threshold lines emitted:\n%s", out)
	}
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "warn 3") {
		t.Errorf("warn line missing:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR]") || !strings.Contains(out, "error 4") {
		t.Errorf("error line missing:\n%s", out)
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf strings.Builder
	log := NewLogger(LevelInfo, &buf)

	child := log.With(map[string]any{"fn": "-main", "slots": 3})
	child.Infof("compiled")

	out := buf.String()
	// Field keys are sorted for deterministic output.
	fnIdx := strings.Index(out, "fn=-main")
	slotsIdx := strings.Index(out, "slots=3")
	if fnIdx < 0 || slotsIdx < 0 {
		t.Fatalf("fields missing:\n%s", out)
	}
	if fnIdx > slotsIdx {
		t.Errorf("fields not in sorted key order:\n%s", out)
	}

	// The parent logger is not mutated by With.
	buf.Reset()
	log.Infof("plain")
	if strings.Contains(buf.String(), "fn=") {
		t.Errorf("parent logger inherited child fields:\n%s", buf.String())
	}
}

func TestLogger_QuotesFieldsWithWhitespace(t *testing.T) {
	var buf strings.Builder
	log := NewLogger(LevelInfo, &buf)
	log.With(map[string]any{"src": "(+ 1 2)"}).Infof("form")
	if !strings.Contains(buf.String(), `src="(+ 1 2)"`) {
		t.Errorf("whitespace field not quoted:\n%s", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"gibberish", LevelWarn},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
