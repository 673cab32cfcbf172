package httpapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"info":     zerolog.InfoLevel,
		" DEBUG ":  zerolog.DebugLevel,
		"trace":    zerolog.TraceLevel,
		"warn":     zerolog.WarnLevel,
		"Warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"verbose":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_jsonCarriesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LoggerOptions{Level: "info", Version: "1.4.2", Out: &buf})

	log.Debug().Msg("dropped")
	log.Info().Str("node", "device:7").Msg("alert created")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above debug, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for k, want := range map[string]string{
		"service": "fleetwatch",
		"version": "1.4.2",
		"level":   "info",
		"node":    "device:7",
		"message": "alert created",
	} {
		if entry[k] != want {
			t.Fatalf("%s = %v, want %q", k, entry[k], want)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("missing time field: %v", entry)
	}
}

func TestNewLogger_defaultsVersionAndHonoursConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LoggerOptions{Level: "warn", Format: "console", Out: &buf})

	log.Info().Msg("quiet")
	log.Warn().Msg("poll failed")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "poll failed") || !strings.Contains(out, "version=dev") {
		t.Fatalf("unexpected console output: %q", out)
	}
	if json.Valid([]byte(strings.TrimSpace(out))) {
		t.Fatalf("console format produced JSON: %q", out)
	}
}
