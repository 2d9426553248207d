// Package observability sets up logging and metrics for botworker.
//
// It wraps log/slog with trace ID propagation, secret redaction and optional
// rotating file output so that every log line emitted while serving a
// request carries the trace context.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/botoralo/botworker/common/redact"
	"github.com/botoralo/botworker/common/trace"
)

// LogConfig configures the default logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	// File enables a rotating log file alongside stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Secrets are scrubbed from every string attribute and message.
	Secrets []string
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
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

// NewLogger builds a logger writing to w according to cfg.
func NewLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: redactor(cfg.Secrets),
	}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs the default logger and returns a closer for the log file,
// if any.
func Setup(cfg LogConfig) io.Closer {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, file)
		closer = file
	}
	slog.SetDefault(NewLogger(w, cfg))
	return closer
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

func redactor(secrets []string) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() != slog.KindString && a.Value.Kind() != slog.KindAny {
			return a
		}
		if redact.IsSensitiveKey(a.Key) && a.Value.String() != "" {
			return slog.String(a.Key, redact.Placeholder)
		}
		if len(secrets) == 0 {
			return a
		}
		s := a.Value.String()
		if r := redact.String(s, secrets...); r != s {
			return slog.String(a.Key, r)
		}
		return a
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
