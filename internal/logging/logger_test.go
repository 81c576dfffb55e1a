package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"decklens/internal/config"
	"decklens/internal/logging"
	"decklens/internal/services"
)

func tempLogPath(t *testing.T) (string, func() string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	read := func() string {
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(data)
	}
	return logPath, read
}

func TestConsoleLoggerRendersComponentAndSubject(t *testing.T) {
	logPath, read := tempLogPath(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "3f2c9a10-aaaa-bbbb-cccc-000000000000")
	ctx = services.WithStage(ctx, "recognize")
	component := logging.NewComponentLogger(logger, "pipeline")
	logging.WithContext(ctx, component).Info("variant finished", logging.Float64("mean_confidence", 0.91))

	content := read()
	for _, fragment := range []string{"INFO [pipeline]", "Job 3f2c9a10 (recognize)", "variant finished", "- mean_confidence: 0.91"} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath, read := tempLogPath(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("debug with caller")
	if !strings.Contains(read(), ".go:") {
		t.Fatal("expected caller information for debug level")
	}
}

func TestJSONLoggerEmitsStructuredFields(t *testing.T) {
	logPath, read := tempLogPath(t)
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "remote lookup failed", "catalog_remote_failed", logging.String("token", "Xyz"))

	var payload map[string]any
	line := strings.TrimSpace(read())
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode json log %q: %v", line, err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload[logging.FieldEventType] != "catalog_remote_failed" {
		t.Fatalf("expected event type, got %v", payload[logging.FieldEventType])
	}
	for _, key := range []string{"ts", logging.FieldErrorHint, logging.FieldImpact, "token"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected key %q in %v", key, payload)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigMirrorsToLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("started", logging.String(logging.FieldEventType, "startup"))

	data, err := os.ReadFile(cfg.LogFilePath())
	if err != nil {
		t.Fatalf("expected active log file: %v", err)
	}
	if !strings.Contains(string(data), "started") {
		t.Fatalf("expected message in log file, got %q", string(data))
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 0) {
		t.Fatal("expected nop logger to be disabled")
	}
	logging.WarnWithContext(nil, "ignored", "noop")
}
