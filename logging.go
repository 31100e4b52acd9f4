package main

import (
	"io"
	"log/slog"
)

// setupLogging installs the default slog logger writing to w. When the TUI
// owns the terminal, log output is discarded unless debugging.
func setupLogging(w io.Writer, level slog.Level, format LogFormat, tuiActive bool) *slog.Logger {
	if tuiActive && level > slog.LevelDebug {
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
