package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("topology", "four-tank-leak")).Info(context.Background(), "tick",
		Uint64("tick", 7), Float64("flow_total", 3.35), Bool("paused", false), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "tick" || rec["topology"] != "four-tank-leak" || rec["error"] != "boom" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["flow_total"].(float64) != 3.35 {
		t.Fatalf("flow_total = %v", rec["flow_total"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	log.Warn(context.Background(), "shown")
	if buf.Len() == 0 {
		t.Fatalf("warn was dropped")
	}
}

func TestEnsureCommandIDIsStable(t *testing.T) {
	ctx, id := EnsureCommandID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("command id %q is not a uuid: %v", id, err)
	}
	ctx2, id2 := EnsureCommandID(ctx)
	if id2 != id || CommandIDFromContext(ctx2) != id {
		t.Fatalf("command id changed: %q -> %q", id, id2)
	}
}

func TestWithCommandLoggerUsesExistingID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})
	ctx := ContextWithCommandID(context.Background(), "cmd-1")

	ctx, log := WithCommandLogger(ctx, base)
	log.Info(ctx, "applied")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["command_id"] != "cmd-1" {
		t.Fatalf("command_id = %v", rec["command_id"])
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on bare context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("nil logger should be replaced by Noop")
	}
}
