package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name       string
		baseDir    string
		instanceID string
	}{
		{name: "valid directory", baseDir: t.TempDir(), instanceID: "inst-1"},
		{name: "creates nested directories", baseDir: filepath.Join(t.TempDir(), "nested", "logs"), instanceID: "inst-2"},
		{name: "empty instance id", baseDir: t.TempDir(), instanceID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.baseDir, tt.instanceID)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Close()

			if logger.minLevel != LevelInfo {
				t.Errorf("minLevel = %v, want %v", logger.minLevel, LevelInfo)
			}
			for _, name := range []string{"cycles.jsonl", "errors.jsonl"} {
				if _, err := os.Stat(filepath.Join(tt.baseDir, name)); err != nil {
					t.Errorf("%s not created: %v", name, err)
				}
			}
		})
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestLogWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "inst")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	if err := logger.Cycle("c1", "cycle.started", "prompt submitted", map[string]any{"prompt_len": 5}); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "cycles.jsonl"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.CycleID != "c1" || ev.InstanceID != "inst" || ev.Category != CategoryCycle {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestErrorsAreDuplicated(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "inst")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	_ = logger.Warn(CategorySession, "session.heal_started", "probe failed", nil)
	_ = logger.Error(CategorySession, "session.unhealthy", "recovery failed", nil)

	if got := len(readLines(t, filepath.Join(dir, "cycles.jsonl"))); got != 2 {
		t.Errorf("cycles.jsonl lines = %d, want 2", got)
	}
	if got := len(readLines(t, filepath.Join(dir, "errors.jsonl"))); got != 1 {
		t.Errorf("errors.jsonl lines = %d, want 1", got)
	}
}

func TestMinLevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "inst")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	_ = logger.Debug(CategoryBridge, "bridge.stray", "dropped", nil)
	if got := len(readLines(t, filepath.Join(dir, "cycles.jsonl"))); got != 0 {
		t.Errorf("debug should be filtered at info, got %d lines", got)
	}

	logger.SetMinLevel(LevelDebug)
	_ = logger.Debug(CategoryBridge, "bridge.stray", "dropped", nil)
	if got := len(readLines(t, filepath.Join(dir, "cycles.jsonl"))); got != 1 {
		t.Errorf("debug should pass at debug level, got %d lines", got)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	if err := logger.Info(CategoryServer, "x", "y", nil); err != nil {
		t.Errorf("nil logger returned %v", err)
	}
	logger.SetMinLevel(LevelDebug)
	if err := logger.Close(); err != nil {
		t.Errorf("nil Close returned %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warn") != LevelWarn {
		t.Error("warn should parse")
	}
	if ParseLevel("verbose") != LevelInfo {
		t.Error("unknown level should default to info")
	}
}

func TestReadRecentEvents(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "inst")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = logger.Cycle(id, "cycle.completed", "", nil)
	}
	path := logger.CyclePath()
	logger.Close()

	// A corrupt line in the middle should be skipped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("{not json\n")
	f.Close()

	events, err := ReadRecentEvents(path, 2)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].CycleID != "c" || events[1].CycleID != "d" {
		t.Errorf("got cycles %q,%q want c,d", events[0].CycleID, events[1].CycleID)
	}

	if _, err := ReadRecentEvents(filepath.Join(dir, "missing.jsonl"), 1); err == nil {
		t.Error("missing file should error")
	}
}
