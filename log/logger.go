package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel is the minimum severity a Logger will emit.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	ErrorLevel
)

// Logger is the logging contract shared by every AQM component.
type Logger interface {
	Debug(msg string, args ...any)
	Debugf(format string, args ...any)
	Info(msg string, args ...any)
	Infof(format string, args ...any)
	Error(msg string, args ...any)
	Errorf(format string, args ...any)
	With(args ...any) Logger
}

type slogLogger struct {
	logger   *slog.Logger
	logLevel LogLevel
}

// NewLogger returns a Logger backed by slog's text handler on stderr,
// filtered at the given level ("debug", "info", or "error"; unknown
// values default to info).
func NewLogger(level string) Logger {
	return newLoggerTo(os.Stderr, level)
}

func newLoggerTo(w io.Writer, level string) Logger {
	lvl := parseLevel(level)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: toSlogLevel(lvl),
	})
	return &slogLogger{
		logger:   slog.New(handler),
		logLevel: lvl,
	}
}

// NewNoopLogger returns a Logger that discards everything. Useful for
// tests and for callers that have not wired a logger yet.
func NewNoopLogger() Logger {
	return newLoggerTo(io.Discard, "error")
}

func (l *slogLogger) Debug(msg string, args ...any) {
	if l.logLevel > DebugLevel {
		return
	}
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (l *slogLogger) Debugf(format string, args ...any) {
	if l.logLevel > DebugLevel {
		return
	}
	l.logger.Log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(msg string, args ...any) {
	if l.logLevel > InfoLevel {
		return
	}
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

func (l *slogLogger) Infof(format string, args ...any) {
	if l.logLevel > InfoLevel {
		return
	}
	l.logger.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

func (l *slogLogger) Errorf(format string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{
		logger:   l.logger.With(args...),
		logLevel: l.logLevel,
	}
}

func parseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "dbg":
		return DebugLevel
	case "info", "inf":
		return InfoLevel
	case "error", "err":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func toSlogLevel(l LogLevel) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
