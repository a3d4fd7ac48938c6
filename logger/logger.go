// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// EnvLevel selects the log level (trace, debug, info, warn, error).
const EnvLevel = "LOG_LEVEL"

// InitWithOptions initializes the logger with the specified options.
// If logFile is set, JSON logs are appended to it. Otherwise logs go to stderr,
// human-readable when pretty is true. stdout is left to command output and the
// MCP stdio transport.
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	if logFile != "" && pretty {
		return zerolog.Logger{}, fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	level := parseLogLevel(os.Getenv(EnvLevel))

	var output io.Writer
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		output = os.Stderr
	}

	log := New(output, level)
	switch {
	case logFile != "":
		log.Debug().Str("path", logFile).Str("level", level.String()).Msg("Logger initialized")
	case pretty:
		log.Debug().Str("output", "stderr").Str("format", "pretty").Str("level", level.String()).Msg("Logger initialized")
	default:
		log.Debug().Str("output", "stderr").Str("level", level.String()).Msg("Logger initialized")
	}
	return log, nil
}

// New returns a timestamped logger writing to w at level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
