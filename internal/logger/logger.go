// Package logger builds the process-wide slog.Logger.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a logger writing to w in the given format ("json" or "text")
// at level. A nil w writes to os.Stdout.
func New(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupDefault builds a logger with New and installs it as the slog default.
func SetupDefault(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	l := New(w, format, level)
	slog.SetDefault(l)
	return l
}
