// Package telemetry wires structured logging and Prometheus metrics for
// the worker's components.
package telemetry

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogConfig configures the root logger.
type LogConfig struct {
	// Level is one of trace|debug|info|warn|error|fatal|panic.
	Level string
	// Format is "json" (default) or "console".
	Format string
}

// NewRootLogger builds the process-wide logger from LogConfig.
func NewRootLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer = os.Stderr
	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	if strings.EqualFold(cfg.Format, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

// Component returns a child logger tagged with a "component" field, the
// convention used throughout this worker's packages.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
