package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/slashdev/synstamp/cmd/synstamp/config"
	"github.com/slashdev/synstamp/internal"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return internal.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// newLogger builds the command logger writing to stderr and, if enabled, a
// rotating log file. The returned closer flushes and closes the file.
func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File.Enabled {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.Rotation.MaxSizeMB,  // megabytes
			MaxBackups: cfg.File.Rotation.MaxBackups, // number of backups
			MaxAge:     cfg.File.Rotation.MaxAgeDays, // days
			Compress:   cfg.File.Rotation.Compress,
		}
		w = io.MultiWriter(os.Stderr, file)
		closer = file
	}
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.Any() == internal.LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
			return a
		},
	}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
