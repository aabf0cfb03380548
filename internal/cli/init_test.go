package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"capitalguard/internal/config"
)

func TestSetupLoggerHonoursConfig(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := setupLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, "app", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warning, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if rec["msg"] != "shown" || rec["component"] != "app" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestSetupLoggerDefaults(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := setupLogger(nil, "worker", &buf)
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "component=worker") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
