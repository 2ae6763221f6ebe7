//go:build debugheaplog

package internal

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"
)

const (
	HeapAllocDebugging = true
	timefmt            = "[01-02 15:04:05.000]"
)

var (
	timebuf    [len(timefmt) * 2]byte
	memstats   runtime.MemStats
	lastAllocs uint64
	allocmu    sync.Mutex
)

func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return true
}

// LogAttrs prints the log line with the builtin print functions and reports
// heap allocations that happened since the previous log line.
func LogAttrs(_ *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	allocmu.Lock()
	defer allocmu.Unlock()
	runtime.ReadMemStats(&memstats)
	if memstats.TotalAlloc != lastAllocs {
		print("[ALLOC] ", msg, " inc=", int64(memstats.TotalAlloc)-int64(lastAllocs), " heap=", memstats.HeapAlloc)
		println()
	}
	now := time.Now()
	n := len(now.AppendFormat(timebuf[:0], timefmt))
	print("time=", unsafe.String(&timebuf[0], n), " ")
	if level == LevelTrace {
		print("TRACE ")
	} else {
		print(level.String(), " ")
	}
	print(msg)
	for _, a := range attrs {
		switch a.Value.Kind() {
		case slog.KindString:
			print(" ", a.Key, "=", a.Value.String())
		case slog.KindInt64:
			print(" ", a.Key, "=", a.Value.Int64())
		case slog.KindUint64:
			print(" ", a.Key, "=", a.Value.Uint64())
		case slog.KindBool:
			print(" ", a.Key, "=", a.Value.Bool())
		}
	}
	println()
	runtime.ReadMemStats(&memstats)
	lastAllocs = memstats.TotalAlloc
}
