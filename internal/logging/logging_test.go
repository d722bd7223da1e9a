package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/clinicalops/trialrisk/internal/domain"
)

func TestSetup(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		Setup(domain.LoggingConfig{Level: "info", Format: "json"}, &buf)
		slog.Debug("hidden")
		slog.Info("stage complete", "stage", "compute_dqi")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
		}
		if entry["msg"] != "stage complete" || entry["stage"] != "compute_dqi" {
			t.Errorf("unexpected entry: %v", entry)
		}
	})

	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		Setup(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
		slog.Debug("visible")
		if !strings.Contains(buf.String(), "msg=visible") {
			t.Errorf("expected text debug line, got %q", buf.String())
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
