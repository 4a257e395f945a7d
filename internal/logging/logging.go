// Package logging provides simple configuration for slog loggers.
// It normalizes user log-level strings and sets handler options.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel normalizes a log level string into slog.Level.
// Unknown values return slog.LevelInfo with an error.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	if s == "" {
		return slog.LevelInfo, nil
	}
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level")
	}
}

// Options controls logger formatting and defaults.
// Writer defaults to stderr when not provided.
type Options struct {
	Level       string
	AddSource   bool
	JSON        bool
	Writer      io.Writer
	DefaultSlog bool
}

func newHandler(opt Options) (slog.Handler, slog.Level, error) {
	level, err := ParseLevel(opt.Level)
	if err != nil {
		return nil, 0, err
	}
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	lo := &slog.HandlerOptions{
		Level:     level,
		AddSource: opt.AddSource || level == slog.LevelDebug,
	}
	if opt.JSON {
		return slog.NewJSONHandler(w, lo), level, nil
	}
	return slog.NewTextHandler(w, lo), level, nil
}

// New constructs a configured slog.Logger and returns its parsed level.
// When DefaultSlog is true, slog.SetDefault is called.
func New(opt Options) (*slog.Logger, slog.Level, error) {
	h, level, err := newHandler(opt)
	if err != nil {
		return nil, 0, err
	}
	lg := slog.New(h)
	if opt.DefaultSlog {
		slog.SetDefault(lg)
	}
	return lg, level, nil
}

// NewWithHub is New with records additionally teed through a Hub, which
// keeps a bounded tail and fans records out to live followers.
func NewWithHub(opt Options, ringSize int) (*slog.Logger, *Hub, slog.Level, error) {
	h, level, err := newHandler(opt)
	if err != nil {
		return nil, nil, 0, err
	}
	hub := NewHub(h, ringSize)
	lg := slog.New(hub)
	if opt.DefaultSlog {
		slog.SetDefault(lg)
	}
	return lg, hub, level, nil
}
