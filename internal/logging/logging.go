// Package logging builds the process-wide zerolog.Logger every other
// package receives by injection (via WithLogger options, matching the
// teacher's call sites and the pack's consistent zerolog.Logger-as-field
// convention, e.g. the admission monitor and ffmpeg adapter reference
// implementations in the retrieved example set). Components default to
// zerolog.Nop() when no logger is injected, so this package is only ever
// consulted once, from main.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level ("debug", "info", "warn", "error").
// pretty selects a human-readable console writer (local/dev use) over the
// default structured JSON output (what a supervised/production deployment
// should collect).
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var out zerolog.ConsoleWriter
	var logger zerolog.Logger
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(lvl).With().Timestamp().Logger()
}
