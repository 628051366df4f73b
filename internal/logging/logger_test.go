package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pointsarena/server/internal/config"
)

func TestNewWritesStructuredLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.log")
	logger, err := New(config.LoggingConfig{Level: "debug", Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("player joined", String("room_id", "room-1"), Int("members", 2))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	if payload["message"] != "player joined" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}
	if payload["room_id"] != "room-1" {
		t.Fatalf("unexpected room_id: %v", payload["room_id"])
	}
	if payload["service"] != "arena" {
		t.Fatalf("unexpected service field: %v", payload["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.log")
	logger, err := New(config.LoggingConfig{Level: "warn", Path: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("ignored")
	logger.Info("also ignored")
	logger.Warn("kept")
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "kept") {
		t.Fatalf("expected a single warn line, got %q", string(data))
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	ctx, logger, traceID := WithTrace(context.Background(), NewTestLogger(), "")
	if traceID == "" {
		t.Fatalf("expected a generated trace id")
	}
	if got := TraceIDFromContext(ctx); got != traceID {
		t.Fatalf("expected trace id %q in context, got %q", traceID, got)
	}
	if LoggerFromContext(ctx) != logger {
		t.Fatalf("expected derived logger in context")
	}
}
