package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "production", "info")

	log.Debug().Msg("hidden")
	log.Info().Str("job_id", "pred_1").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["service"] != "cardgen" || entry["job_id"] != "pred_1" || entry["message"] != "visible" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewWithWriter_DevelopmentConsole(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "development", "")

	log.Debug().Msg("debug in dev")

	out := buf.String()
	if !strings.Contains(out, "debug in dev") {
		t.Errorf("development logger dropped debug message: %q", out)
	}
	if json.Valid([]byte(strings.TrimSpace(out))) {
		t.Error("development logger should use the console writer")
	}
}
