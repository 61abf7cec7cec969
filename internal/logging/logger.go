package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Development gets a console writer, everything
// else writes JSON lines to stdout.
func New(appEnv, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level)
}

func NewWithWriter(out io.Writer, appEnv, level string) zerolog.Logger {
	parsed := parseLevel(appEnv, level)

	logger := zerolog.New(out).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "genworker").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger
}

func parseLevel(appEnv, level string) zerolog.Level {
	if strings.TrimSpace(level) != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && parsed != zerolog.NoLevel {
			return parsed
		}
	}
	if appEnv == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
