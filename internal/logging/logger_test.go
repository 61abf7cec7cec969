package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithWriterWritesJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "production", "")
	logger.Info().Str("queue", "chatgpt").Msg("consumer started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["queue"] != "chatgpt" || line["service"] != "genworker" {
		t.Fatalf("unexpected fields: %#v", line)
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("production", "warn"); got != zerolog.WarnLevel {
		t.Fatalf("expected warn, got %s", got)
	}
	if got := parseLevel("development", ""); got != zerolog.DebugLevel {
		t.Fatalf("expected debug default in development, got %s", got)
	}
	if got := parseLevel("production", "nonsense"); got != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", got)
	}
}
