package daemon

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"go.olrik.dev/stagehand/internal/supervisor"
)

// logWriter tees formatted log output into the daemon's broadcaster so
// attached clients see live logs.
type logWriter struct {
	broadcaster *supervisor.OutputBroadcaster
}

func (lw *logWriter) Write(p []byte) (int, error) {
	lw.broadcaster.Broadcast(string(p))
	return len(p), nil
}

// setupLogging points slog at stderr plus the log broadcaster.
func (d *Daemon) setupLogging() {
	level := slog.LevelInfo
	if d.verbose > 0 {
		level = slog.LevelDebug
	}

	multi := io.MultiWriter(os.Stderr, &logWriter{broadcaster: d.logBroadcast})
	handler := tint.NewHandler(multi, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}
