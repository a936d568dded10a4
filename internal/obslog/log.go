// Package obslog carries the ambient observability stack: a filtering
// slog logger, Prometheus counters/histograms for the graph and HTTP
// surface, and an OpenTelemetry stdout tracer. Grounded on
// pkg/logger/logger.go and pkg/observability/{metrics,tracer}.go, trimmed
// to the handful of signals this service actually emits (no RAG/tool/
// memory metrics, since those subsystems don't exist here).
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/kadirpekel/deepresearch"

// ParseLevel converts a level name (case-insensitive) to a slog.Level,
// defaulting to Info for anything unrecognized.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// filteringHandler suppresses third-party log lines unless the minimum
// level is Debug, so a --log-level=info run isn't drowned out by chi or
// the SQL driver's own logging.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.fromModule(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) fromModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePrefix) || strings.Contains(file, "deepresearch/")
}

// New builds the process logger. format "simple" writes level+message;
// anything else uses slog's default text layout with timestamps.
func New(level slog.Level, output *os.File, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String(slog.LevelKey, "WARN")
			}
			return a
		},
	}
	var base slog.Handler
	if format == "simple" {
		base = &simpleHandler{out: output, level: level}
	} else {
		base = slog.NewTextHandler(output, opts)
	}
	return slog.New(&filteringHandler{handler: base, minLevel: level})
}

// simpleHandler writes "LEVEL message key=value ..." with no timestamp,
// matching the teacher's "simple" format (the default for interactive use).
type simpleHandler struct {
	out   io.Writer
	level slog.Level
}

func (h *simpleHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *simpleHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder
	buf.WriteString(strings.ToUpper(record.Level.String()))
	buf.WriteString(" ")
	buf.WriteString(record.Message)
	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *simpleHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *simpleHandler) WithGroup(name string) slog.Handler      { return h }
