package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", in, got, want)
		}
	}
}

func TestNewLogger_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info", "")

	log.Debug("ws.hidden")
	log.Info("ws.hello", "namespace", "support", "session_id", "s1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "ws.hello" || rec["namespace"] != "support" || rec["source"] == nil {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewLogger_PrettyFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "pretty")

	log.Warn("ws.reject.origin", "origin", "https://evil.example", "err", "origin not allowed")

	out := buf.String()
	for _, want := range []string{"WARN", "ws.reject.origin", "origin=https://evil.example", `err="origin not allowed"`, "src=logger_test.go:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("pretty output %q lacks %q", out, want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("buffers are not terminals; output must be uncolored: %q", out)
	}
}
