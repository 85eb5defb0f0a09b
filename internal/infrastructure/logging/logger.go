package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// ServiceName is attached to every entry.
const ServiceName = "spiro"

// Logger wraps slog.Logger. It is safe for concurrent use.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a logger from cfg. An output that is neither "stdout" nor
// "stderr" is treated as a file path and appended to; if the file cannot
// be opened the logger falls back to stderr and says so.
func New(cfg config.LoggingConfig, instance, version string) *Logger {
	var (
		out     io.Writer
		closer  io.Closer
		openErr error
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			out, openErr = os.Stderr, err
		} else {
			out, closer = f, f
		}
	}

	l := NewWithWriter(out, cfg.Level, cfg.Format, instance, version)
	l.closer = closer
	if openErr != nil {
		l.Warn("log file unavailable, using stderr", "path", cfg.Output, "error", openErr)
	}
	return l
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(w io.Writer, level, format, instance, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	attrs := []slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}
	if instance != "" {
		attrs = append(attrs, slog.String("instance", instance))
	}
	return &Logger{Logger: slog.New(handler.WithAttrs(attrs))}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a logger with extra default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	if err := l.closer.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

// Default is the logger used before configuration is loaded.
func Default() *Logger {
	return NewWithWriter(os.Stdout, "info", "json", "", "dev")
}
