package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewWithWriter_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json", "rig-a", "1.2.0")
	logger.Info("captured", "plate", 2)

	entry := decodeLine(t, &buf)
	want := map[string]any{
		"msg":      "captured",
		"service":  ServiceName,
		"version":  "1.2.0",
		"instance": "rig-a",
		"plate":    float64(2),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestNewWithWriter_NoInstance(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json", "", "dev").Info("x")
	if _, ok := decodeLine(t, &buf)["instance"]; ok {
		t.Error("instance should be omitted when empty")
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "text", "rig", "dev").Debug("homing", "steps", 8)
	line := buf.String()
	for _, want := range []string{"level=DEBUG", "msg=homing", "steps=8", "service=spiro"} {
		if !strings.Contains(line, want) {
			t.Errorf("text output %q missing %q", line, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json", "", "dev")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	logger.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn not logged at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json", "", "dev").Component("camera").Info("still mode")
	if got := decodeLine(t, &buf)["component"]; got != "camera" {
		t.Errorf("component = %v, want camera", got)
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spiro.log")
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: path}, "rig", "dev")
	logger.Info("to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("log file = %q", data)
	}
}

func TestNew_StandardStreams(t *testing.T) {
	for _, out := range []string{"stdout", "stderr", ""} {
		logger := New(config.LoggingConfig{Output: out}, "", "dev")
		if logger == nil {
			t.Fatalf("New(%q) returned nil", out)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
