package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return entry
}

// TestLogger_IncludesComponentFields verifies component fields are present in log output.
func TestLogger_IncludesComponentFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.WithComponent(Component{Kind: KindCache, Name: "embeddings"}).
		Info(context.Background(), "test message")

	entry := decodeLine(t, &buf)

	if v, ok := entry["component.kind"].(string); !ok || v != "cache" {
		t.Errorf("expected component.kind='cache', got %v", entry["component.kind"])
	}
	if v, ok := entry["component.name"].(string); !ok || v != "embeddings" {
		t.Errorf("expected component.name='embeddings', got %v", entry["component.name"])
	}
	if v, ok := entry["msg"].(string); !ok || v != "test message" {
		t.Errorf("expected msg='test message', got %v", entry["msg"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

// TestLogger_FieldsEncoded verifies arbitrary fields and errors are encoded.
func TestLogger_FieldsEncoded(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "batch completed",
		Field{Key: "duration_ms", Value: 50.5},
		Field{Key: "cause", Value: errors.New("upstream 503")},
	)

	entry := decodeLine(t, &buf)

	if v, ok := entry["duration_ms"].(float64); !ok || v != 50.5 {
		t.Errorf("expected duration_ms=50.5, got %v", entry["duration_ms"])
	}
	if v, ok := entry["cause"].(string); !ok || v != "upstream 503" {
		t.Errorf("expected cause='upstream 503', got %v", entry["cause"])
	}
}

// TestLogger_Levels verifies each method writes at its level.
func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name string
		log  func(Logger)
		want string
	}{
		{"debug", func(l Logger) { l.Debug(context.Background(), "m") }, "debug"},
		{"info", func(l Logger) { l.Info(context.Background(), "m") }, "info"},
		{"warn", func(l Logger) { l.Warn(context.Background(), "m") }, "warn"},
		{"error", func(l Logger) { l.Error(context.Background(), "m") }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewLoggerWithWriter("debug", &buf))

			entry := decodeLine(t, &buf)
			if entry["level"] != tt.want {
				t.Errorf("level = %v, want %q", entry["level"], tt.want)
			}
		})
	}
}

// TestLogger_SensitiveFieldsRedacted verifies inputs, values and credentials never reach the output.
func TestLogger_SensitiveFieldsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "test",
		Field{Key: "input", Value: "secret prompt"},
		Field{Key: "value", Value: []float64{0.1, 0.2}},
		Field{Key: "api_key", Value: "sk-123"},
		Field{Key: "key", Value: "abc"},
	)

	output := buf.String()
	for _, leaked := range []string{"secret prompt", "0.1", "sk-123"} {
		if strings.Contains(output, leaked) {
			t.Errorf("output contains redacted content %q: %s", leaked, output)
		}
	}

	entry := decodeLine(t, &buf)
	if entry["input"] != "[REDACTED]" {
		t.Errorf("expected input redacted, got %v", entry["input"])
	}
	if entry["key"] != "abc" {
		t.Errorf("expected key passed through, got %v", entry["key"])
	}
}

// TestLogger_LevelFiltering verifies lower levels are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug")
	logger.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "warn")
	if buf.Len() == 0 {
		t.Error("expected warn output")
	}
}

// TestParseLogLevel verifies string parsing and fallback.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestFromZap verifies an external zap logger can back a Logger.
func TestFromZap(t *testing.T) {
	logger := FromZap(zaptest.NewLogger(t))
	logger.WithComponent(Component{Kind: KindBatch, Name: "embed"}).
		Info(context.Background(), "scheduler initialised")

	if FromZap(nil) == nil {
		t.Error("FromZap(nil) returned nil")
	}
}
