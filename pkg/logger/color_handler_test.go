package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestColorHandler(t *testing.T) {
	tests := []struct {
		name     string
		level    slog.Level
		message  string
		wantCode string
	}{
		{
			name:     "error message has red color",
			level:    slog.LevelError,
			message:  "test error",
			wantCode: colorRed,
		},
		{
			name:     "warning message has yellow color",
			level:    slog.LevelWarn,
			message:  "test warning",
			wantCode: colorYellow,
		},
		{
			name:     "info message has no color",
			level:    slog.LevelInfo,
			message:  "test info",
			wantCode: "",
		},
		{
			name:     "ingest message has green color",
			level:    slog.LevelInfo,
			message:  "batch ingested",
			wantCode: colorGreen,
		},
		{
			name:     "migration message has green color",
			level:    slog.LevelInfo,
			message:  "applied migration",
			wantCode: colorGreen,
		},
		{
			name:     "debug message has no color",
			level:    slog.LevelDebug,
			message:  "test debug",
			wantCode: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(&buf, "debug", "text")

			log.Log(context.Background(), tt.level, tt.message)

			out := buf.String()
			if !strings.Contains(out, tt.message) {
				t.Errorf("output %q does not contain message %q", out, tt.message)
			}
			if tt.wantCode == "" {
				for _, code := range []string{colorRed, colorYellow, colorGreen} {
					if strings.Contains(out, code) {
						t.Errorf("output %q should not contain color code %q", out, code)
					}
				}
				return
			}
			if !strings.Contains(out, tt.wantCode) {
				t.Errorf("output %q does not contain color code %q", out, tt.wantCode)
			}
		})
	}
}

func TestColorHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "text")

	log.Info("hidden")
	log.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message leaked through warn-level handler: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn message missing from output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
