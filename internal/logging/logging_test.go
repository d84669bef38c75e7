package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield the default logger")
	}

	logger := New("debug", "text")
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("context logger not returned")
	}
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "json") == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}
