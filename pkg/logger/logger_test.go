package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"bothive/pkg/config"
)

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOTHIVE_LOG_FORMAT", "")
	t.Setenv("BOTHIVE_LOG_LEVEL", "")
}

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "dispatch.server").Info("Webhook received", "token_suffix", "ab12")

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry["msg"] != "Webhook received" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "Webhook received")
	}
	if entry["component"] != "dispatch.server" {
		t.Fatalf("component = %v, want %q", entry["component"], "dispatch.server")
	}
	if entry["token_suffix"] != "ab12" {
		t.Fatalf("token_suffix = %v, want %q", entry["token_suffix"], "ab12")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("suppressed")
	if out.Len() != 0 {
		t.Fatalf("expected info below error level to be dropped, got %q", out.String())
	}

	log.Error("emitted")
	if out.Len() == 0 {
		t.Fatal("expected error level output")
	}
}

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := New(config.LoggingConfig{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}
