package config

import (
	"io"
	"log/slog"
)

// NewLogger returns a JSON logger in production and a text logger otherwise.
// Logs go to w so they never mix with command output on stdout.
func NewLogger(c *Config, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		AddSource: c.IsDevelopment(),
	}

	if c.IsProduction() {
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
