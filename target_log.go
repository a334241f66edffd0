package gateway

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogTarget writes capture records as JSON lines to a size-rotated file.
// Lifecycle and raw-byte events are not persisted here; the structured
// records carry everything the log consumers index on.
type LogTarget struct {
	log    *slog.Logger
	closer io.Closer
}

// LogTargetConfig configures the rotating capture log.
type LogTargetConfig struct {
	// Path is the log file. Empty writes to stdout without rotation.
	Path string

	// MaxSizeMB rotates the file once it passes this size. Zero means the
	// lumberjack default (100 MB).
	MaxSizeMB int

	// MaxBackups caps rotated files kept around. Zero keeps all.
	MaxBackups int

	// MaxAgeDays prunes rotated files older than this. Zero keeps all.
	MaxAgeDays int
}

// NewLogTarget builds the target. Safe for concurrent use.
func NewLogTarget(cfg LogTargetConfig) *LogTarget {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if cfg.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w = lj
		closer = lj
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &LogTarget{log: slog.New(handler), closer: closer}
}

// Record implements [CaptureTarget].
func (t *LogTarget) Record(rec *CaptureRecord) error {
	t.log.LogAttrs(context.Background(), slog.LevelInfo, "captured_traffic",
		slog.Any("record", rec))
	return nil
}

// Event implements [CaptureTarget]. Raw events are not logged.
func (t *LogTarget) Event(ev ConnectionEvent) error { return nil }

// Commit implements [CaptureTarget]. Writes are synchronous, so there is
// nothing buffered to flush.
func (t *LogTarget) Commit(ctx context.Context, final bool) error { return nil }

// Close releases the underlying file.
func (t *LogTarget) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
