package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ---- Config ----

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ---- Logger API ----

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field mutates a zerolog event.
//
// This intentionally mirrors the ergonomics of slog.Attr without depending on slog.
// Fields are applied in-order; if the same key is set twice, later fields win.
type Field func(e *zerolog.Event)

func String(k, v string) Field      { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field     { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Bool(k string, v bool) Field   { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is a lightweight structured logger.
//
// - With() returns a derived logger with additional fixed fields.
// - Zero value is a safe no-op logger.
type Logger struct {
	base    zerolog.Logger
	hasBase bool
	fields  []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	return Logger{base: zerolog.Nop(), hasBase: true}
}

// NewConsole creates a standalone console logger.
// Useful for bootstrapping before the config is loaded.
func NewConsole(level string) Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	zl := zerolog.New(cw).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

// SetGlobalLevel adjusts the process-wide minimum level at runtime, for
// config hot reload.
func SetGlobalLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level, zerolog.InfoLevel))
}

// New builds a logger from config. Console and file sinks can be combined;
// with neither enabled the logger is a no-op. The configured level is
// applied process-wide so it can be changed later via SetGlobalLevel.
func New(cfg Config) (Logger, error) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat})
	}
	if cfg.File.Enabled && strings.TrimSpace(cfg.File.Path) != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return Logger{}, err
		}
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Logger{}, err
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		return Nop(), nil
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	SetGlobalLevel(cfg.Level)
	zl := zerolog.New(out).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}, nil
}

func (l Logger) IsZero() bool { return !l.hasBase && len(l.fields) == 0 }

func (l Logger) root() zerolog.Logger {
	if l.hasBase {
		return l.base
	}
	return zerolog.Nop()
}

// Enabled reports whether the given level would be logged.
func (l Logger) Enabled(level Level) bool {
	return level >= l.root().GetLevel() && level >= zerolog.GlobalLevel()
}

// With returns a derived logger with extra fixed fields.
func (l Logger) With(fields ...Field) Logger {
	out := l
	out.fields = append(append([]Field{}, l.fields...), fields...)
	return out
}

func (l Logger) emit(level Level, msg string, fields []Field) {
	// WithLevel has a pointer receiver; bind the logger first.
	zl := l.root()
	e := zl.WithLevel(level)
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		f(e)
	}
	e.Msg(msg)
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return def
	default:
		return def
	}
}
