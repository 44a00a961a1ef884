package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured, leveled logging throughout the application.
// Messages keep the printf style with a "[component]" prefix; structured
// fields are attached with With.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger writing human-readable lines to stdout at the
// given level ("debug", "info", "warn", "error"). Unknown levels mean info.
func NewLogger(level string) *Logger {
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	return newLogger(w, level)
}

// NewJSONLogger creates a Logger emitting one JSON object per line.
func NewJSONLogger(out io.Writer, level string) *Logger {
	return newLogger(out, level)
}

// NewTestLogger discards everything.
func NewTestLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func newLogger(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// With returns a child logger carrying an extra key/value pair.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

// Duration logs how long an operation took at debug level.
func (l *Logger) Duration(op string, started time.Time) {
	l.zl.Debug().Str("op", op).Dur("elapsed", time.Since(started)).Msg("timing")
}
