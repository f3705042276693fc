package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/platinummonkey/og/pkg/contextkeys"
	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	t.Run("writes JSON with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		logger.WithField("group", "node:1").Info("membership saved")

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
		}
		if entry["msg"] != "membership saved" {
			t.Errorf("msg = %v, want %q", entry["msg"], "membership saved")
		}
		if entry["group"] != "node:1" {
			t.Errorf("group = %v, want %q", entry["group"], "node:1")
		}
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(WarnLevel, &buf)

		logger.Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("expected no output, got %q", buf.String())
		}

		logger.Warn("shown")
		if buf.Len() == 0 {
			t.Error("expected warn output")
		}
	})
}

func TestLogLevelString(t *testing.T) {
	tests := map[LogLevel]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	t.Run("returns logger stored in context", func(t *testing.T) {
		var buf bytes.Buffer
		stored := NewLogger(InfoLevel, &buf).WithField("request_id", "abc")
		ctx := contextkeys.WithLogger(context.Background(), logrus.FieldLogger(stored))

		FromContext(ctx, nil).Info("hello")

		if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"abc"`)) {
			t.Errorf("expected request_id in output, got %q", buf.String())
		}
	})

	t.Run("falls back when context has no logger", func(t *testing.T) {
		var buf bytes.Buffer
		fallback := NewLogger(InfoLevel, &buf)

		FromContext(context.Background(), fallback).Info("fallback")

		if buf.Len() == 0 {
			t.Error("expected fallback logger to be used")
		}
	})

	t.Run("never returns nil", func(t *testing.T) {
		if FromContext(context.Background(), nil) == nil {
			t.Fatal("FromContext returned nil")
		}
	})
}
