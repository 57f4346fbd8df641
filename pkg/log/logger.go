package log

import (
	"io"
	"log/slog"
	"os"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names default to Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DebugLevel
	case "warn", "WARN":
		return WarnLevel
	case "error", "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field is a single structured key/value attached to a log record.
type Field struct {
	Key   string
	Value any
}

// Str builds a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Err builds an error field under the conventional "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Component tags records with the emitting component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Logger is the leveled, field-structured logging interface flume components
// depend on. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a derived Logger that includes the given fields on every
	// record it emits.
	With(fields ...Field) Logger
}

// Option configures a logger built by NewLogger.
type Option func(*baseLogger)

// WithLevel sets the minimum log level.
func WithLevel(level Level) Option {
	return func(l *baseLogger) { l.level = level }
}

// WithOutput directs log output to w instead of stderr.
func WithOutput(w io.Writer) Option {
	return func(l *baseLogger) { l.out = w }
}

type baseLogger struct {
	level Level
	out   io.Writer
	slog  *slog.Logger
}

// NewLogger creates a text logger writing to stderr at Info level unless
// configured otherwise.
func NewLogger(options ...Option) Logger {
	l := &baseLogger{level: InfoLevel, out: os.Stderr}
	for _, option := range options {
		option(l)
	}
	h := slog.NewTextHandler(l.out, &slog.HandlerOptions{Level: toSlogLevel(l.level)})
	l.slog = slog.New(h)
	return l
}

// NewNop returns a logger that discards all records.
func NewNop() Logger {
	l := &baseLogger{level: ErrorLevel, out: io.Discard}
	l.slog = slog.New(slog.NewTextHandler(io.Discard, nil))
	return l
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.slog.Debug(msg, attrs(fields)...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.slog.Info(msg, attrs(fields)...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.slog.Warn(msg, attrs(fields)...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.slog.Error(msg, attrs(fields)...) }

func (l *baseLogger) With(fields ...Field) Logger {
	nl := *l
	nl.slog = l.slog.With(attrs(fields)...)
	return &nl
}
