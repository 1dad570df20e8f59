// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var level = new(slog.LevelVar)

// Init installs a text or json handler writing to w as the default logger.
func Init(w io.Writer, lvl, format string) (*slog.Logger, error) {
	if err := SetLevel(lvl); err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

// SetLevel changes the level of every logger created by Init.
func SetLevel(lvl string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	level.Set(l)
	return nil
}

// Level reports the current level.
func Level() slog.Level { return level.Level() }
