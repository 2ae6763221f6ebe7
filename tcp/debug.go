package tcp

import (
	"log/slog"

	"github.com/slashdev/synstamp/internal"
)

type logger struct {
	log *slog.Logger
}

func (l logger) logenabled(lvl slog.Level) bool {
	return internal.HeapAllocDebugging || internal.LogEnabled(l.log, lvl)
}

func (l logger) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, lvl, msg, attrs...)
}

func (l logger) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}

func (l logger) trace(msg string, attrs ...slog.Attr) {
	l.logattrs(internal.LevelTrace, msg, attrs...)
}
