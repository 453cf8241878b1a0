package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"warning alias", "WARNING", slog.LevelWarn},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level")
	}
	if Default() == logger {
		t.Error("Default() returned the same instance twice")
	}
}

func TestWithPhoneMasksNumber(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).WithPhone("+5511999998888")
	logger.Info("message received")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["phone"] != "**********8888" {
		t.Fatalf("expected masked phone, got %v", entry["phone"])
	}
	if entry["msg"] != "message received" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
}

func TestMaskPhoneShortValues(t *testing.T) {
	if got := MaskPhone("123"); got != "***" {
		t.Fatalf("expected fully masked short value, got %q", got)
	}
	if got := MaskPhone(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
