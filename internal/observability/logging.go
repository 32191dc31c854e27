package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns a JSON logger on stdout tagged with the component name.
// The level comes from CLEAR_LOG_LEVEL, defaulting to info; unknown values
// fall back to info rather than erroring, since logging must never block
// startup.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, envLogLevel())
}

// NewLoggerWithLevel is NewLogger with the level fixed by the caller. Tests
// use it to silence components under test.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func envLogLevel() zerolog.Level {
	switch strings.ToLower(os.Getenv("CLEAR_LOG_LEVEL")) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
