package internal

import (
	"log/slog"
)

// LevelTrace is below debug and logs every frame on the hot path.
const LevelTrace slog.Level = slog.LevelDebug - 2
