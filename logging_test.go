package agewatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/agewatch/agewatch/internal/testutil"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("trace"); !errors.Is(err, ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(LoggingConfig{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer func() { _ = closer.Close() }()

	logger.Info("hidden")
	logger.Warn("shown", "session", "abc")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "session=abc") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("training finished", "model", "ma")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "training finished" || rec["model"] != "ma" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := testutil.TempSinkPath(t, "logs/agewatch.log")
	cfg := DefaultLoggingConfig()
	cfg.File = path

	logger, closer, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := testutil.ReadLines(t, path)
	if len(lines) != 1 || !strings.Contains(lines[0], "to file") {
		t.Errorf("unexpected log file content %q", lines)
	}
}

func TestNewLogger_BadFormat(t *testing.T) {
	if _, _, err := NewLogger(LoggingConfig{Format: "xml"}); !errors.Is(err, ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}
