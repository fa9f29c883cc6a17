// Package logging configures the global zerolog logger and emits the
// one-shot startup summary every binary logs.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// LevelEnv selects the level: debug, info, warn, error (default info).
	LevelEnv = "CLAIM_LOG_LEVEL"
	// FormatEnv selects the output: "json" for structured lines, anything
	// else for the console writer.
	FormatEnv = "CLAIM_LOG_FORMAT"
)

// Init configures the global logger from the environment. Output goes to
// stderr so stdout stays free for EMF metrics and CLI output.
func Init() {
	Configure(os.Getenv(LevelEnv), os.Getenv(FormatEnv), os.Stderr)
}

// Configure sets the global level and output format explicitly.
func Configure(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
