package httpapi

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// LoggerOptions configures NewLogger. Out defaults to stdout.
type LoggerOptions struct {
	Level   string
	Format  string
	Version string
	Out     io.Writer
}

// NewLogger builds the process logger. Every line carries the service name
// and build version.
func NewLogger(opts LoggerOptions) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), LogFormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", "fleetwatch").
		Str("version", version).
		Logger()
}

// ParseLevel maps LOG_LEVEL to a zerolog level. "warning" is accepted for
// warn; blank or unknown values fall back to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
