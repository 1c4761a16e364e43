package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration.
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr or a file path
	EnableSource bool

	writer io.Writer
}

// New builds a slog.Logger. Console output goes through tint, everything
// else is JSON. The returned closer releases a log file if one was opened.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	writer, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case "console", "":
		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			AddSource:  cfg.EnableSource,
			TimeFormat: time.RFC3339,
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.EnableSource,
		})
	}

	return slog.New(handler), closer, nil
}

func openOutput(cfg Config) (io.Writer, io.Closer, error) {
	if cfg.writer != nil {
		return cfg.writer, nopCloser{}, nil
	}
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, f, nil
	}
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
