package logger

import (
	"io"
	"log/slog"
	"os"
)

// New creates a new slog.Logger instance that writes to os.Stdout.
// If debug is true, the log level is set to Debug. Otherwise, it's set to Info.
func New(debug bool) *slog.Logger {
	return NewWithWriter(os.Stdout, debug)
}

// NewWithWriter creates a new slog.Logger instance with a specific writer.
func NewWithWriter(w io.Writer, debug bool) *slog.Logger {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Component derives a child logger tagged with the component name.
// Every subsystem takes its logger through this so log lines can be
// filtered by the "component" attribute.
func Component(parent *slog.Logger, name string) *slog.Logger {
	return parent.With("component", name)
}

// Discard creates a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return NewWithWriter(io.Discard, false)
}
