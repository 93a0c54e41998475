package core

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

// TestDefaultTaskSchedulerConfig tests that every handler has a usable default
func TestDefaultTaskSchedulerConfig(t *testing.T) {
	cfg := DefaultTaskSchedulerConfig()
	if cfg.PanicHandler == nil || cfg.Metrics == nil || cfg.RejectedTaskHandler == nil || cfg.Logger == nil {
		t.Fatalf("default config has nil handlers: %+v", cfg)
	}

	s := NewTaskSchedulerWithConfig("partial", 2, &TaskSchedulerConfig{Metrics: newRecordingMetrics()})
	if s.GetPanicHandler() == nil {
		t.Error("expected a panic handler fallback")
	}
	if _, ok := s.GetMetrics().(*recordingMetrics); !ok {
		t.Errorf("expected the configured metrics, got %T", s.GetMetrics())
	}
}

// TestLoggingPanicHandler tests that panics are reported at error level with pool context
func TestLoggingPanicHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &LoggingPanicHandler{Logger: NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))}
	h.HandlePanic(context.Background(), "workflow-executor", 3, "boom", []byte("stack"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if record["level"] != "ERROR" || record["pool"] != "workflow-executor" || record["panic"] != "boom" {
		t.Errorf("unexpected record: %v", record)
	}

	// A nil logger must not panic.
	(&LoggingPanicHandler{}).HandlePanic(context.Background(), "p", 0, "x", nil)
	(&NilMetrics{}).RecordTaskPanic("p", "x")
}

// TestTraitsForCategory tests category labelling of posted tasks
func TestTraitsForCategory(t *testing.T) {
	if got := TraitsForCategory(""); got != DefaultTaskTraits() {
		t.Errorf("empty category = %+v, want defaults", got)
	}
	got := TraitsForCategory("io")
	if got.Category != "io" || !got.MayBlock {
		t.Errorf("unexpected traits: %+v", got)
	}
}
