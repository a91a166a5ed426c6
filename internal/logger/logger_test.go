package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, "debug", "json"), "engine")
	log.Info().Str("session_id", "s1").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if entry["component"] != "engine" || entry["session_id"] != "s1" || entry["message"] != "hello" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "loud", "json")
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be suppressed, got %s", buf.String())
	}
}
