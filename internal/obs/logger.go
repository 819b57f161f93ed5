package obs

import (
	"context"
	"fmt"
	"log/slog"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel maps l onto the matching slog level.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is a minimal logging interface for observability.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// SlogLogger adapts a *slog.Logger. Records carry the formatted message and
// the optional Attrs; level filtering is left to the slog handler.
type SlogLogger struct {
	L     *slog.Logger
	Attrs []slog.Attr
}

func (s SlogLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil {
		return
	}
	ctx := context.Background()
	lv := level.SlogLevel()
	if !s.L.Enabled(ctx, lv) {
		return
	}
	s.L.LogAttrs(ctx, lv, fmt.Sprintf(format, args...), s.Attrs...)
}

// With returns a copy of s that adds attrs to every record.
func (s SlogLogger) With(attrs ...slog.Attr) SlogLogger {
	all := make([]slog.Attr, 0, len(s.Attrs)+len(attrs))
	all = append(all, s.Attrs...)
	all = append(all, attrs...)
	return SlogLogger{L: s.L, Attrs: all}
}

// OrNop returns l, or NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
