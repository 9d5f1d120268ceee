package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// ParseLevel returns the Level named by s
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := zerologLevels[l]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	// Output defaults to stderr, leaving stdout to command output
	Output io.Writer
}

// Init initializes the global logger. Unknown levels log at info.
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithEndpointID creates a child logger with endpoint_id field
func WithEndpointID(id uint32) zerolog.Logger {
	return Logger.With().Uint32("endpoint_id", id).Logger()
}

// WithNetworkID creates a child logger with network_id field
func WithNetworkID(id uint32) zerolog.Logger {
	return Logger.With().Uint32("network_id", id).Logger()
}

// WithBridgeID creates a child logger with bridge_id field
func WithBridgeID(bridgeID string) zerolog.Logger {
	return Logger.With().Str("bridge_id", bridgeID).Logger()
}
