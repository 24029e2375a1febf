// Package logging builds the zerolog loggers shared by the CLI, the batch
// driver and the MCP server.
//
// Console output always goes to stderr; stdout is reserved for the MCP
// protocol when running as a server.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls where and how much the logger writes.
type Options struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	// Empty means "info".
	Level string

	// File, when set, receives JSON lines in addition to the console output.
	File string

	// NoColor disables ANSI colors on the console writer.
	NoColor bool

	// Console overrides the console destination. Defaults to os.Stderr.
	Console io.Writer
}

// New returns a logger configured from opts and a close function that
// releases the log file, if any.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), noop, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime, NoColor: opts.NoColor},
	}

	closer := noop
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level. Empty input is "info".
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func noop() error { return nil }
