package app

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerSelection(t *testing.T) {
	if _, ok := NewLogger("info", "text").Handler().(*slog.TextHandler); !ok {
		t.Fatalf("format=text must select the text handler")
	}
	if _, ok := NewLogger("info", "json").Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("format=json must select the JSON handler")
	}

	ctx := context.Background()
	if !NewLogger("debug", "json").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("level=debug must enable debug records")
	}
	if NewLogger("error", "json").Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("level=error must drop info records")
	}
}
