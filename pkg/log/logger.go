package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Level is the severity of an entry.
type Level int8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

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
	case FatalLevel:
		return "FATAL"
	}
	return "UNKNOWN"
}

// fatal sits above slog.LevelError so the handler can tell it apart.
const slogFatal = slog.LevelError + 4

func (l Level) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return slogFatal
	}
	return slog.LevelInfo
}

func levelOf(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return DebugLevel
	case l < slog.LevelWarn:
		return InfoLevel
	case l < slog.LevelError:
		return WarnLevel
	case l < slogFatal:
		return ErrorLevel
	}
	return FatalLevel
}

// Keys shared by every component so entries of one worker can be correlated.
const (
	ComponentKey      = "component"
	WorkerIDKey       = "worker_id"
	ShardIDKey        = "shard_id"
	IdempotencyKeyKey = "idempotency_key"
	OplogIndexKey     = "oplog_index"
)

// Fields holds the structured context of an entry.
type Fields map[string]interface{}

// Entry is what formatters and outputs see.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
	Error     error
}

// Formatter renders an entry.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives rendered entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// Logger is the structured logger handed to every executor component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs, closes the outputs and exits the process.
	Fatal(msg string, fields ...Field)

	// With returns a child that adds fields to every entry.
	With(fields ...Field) Logger
	WithComponent(component string) Logger

	// SetLevel changes the level of this logger and all of its children.
	SetLevel(level Level)
	GetLevel() Level

	// Slog returns a *slog.Logger writing through the same pipeline.
	Slog() *slog.Logger
}

// Option configures NewLogger.
type Option func(*options)

type options struct {
	level      Level
	formatter  Formatter
	outputs    []Output
	redact     []string
	initial    int
	thereafter int
}

func WithLevel(level Level) Option {
	return func(o *options) { o.level = level }
}

func WithFormatter(formatter Formatter) Option {
	return func(o *options) { o.formatter = formatter }
}

// WithOutput adds an output. Without any, entries go to stderr.
func WithOutput(output Output) Option {
	return func(o *options) { o.outputs = append(o.outputs, output) }
}

// WithRedactedKeys replaces the values of the given keys with [REDACTED].
func WithRedactedKeys(keys ...string) Option {
	return func(o *options) { o.redact = append(o.redact, keys...) }
}

// WithSampling keeps the first initial entries with the same level and
// message, then one in every thereafter. A non-positive thereafter disables
// sampling.
func WithSampling(initial, thereafter int) Option {
	return func(o *options) { o.initial, o.thereafter = initial, thereafter }
}

// NewLogger builds a logger. There is no package level default; loggers are
// passed explicitly.
func NewLogger(opts ...Option) Logger {
	o := options{level: InfoLevel, formatter: &JSONFormatter{}}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.outputs) == 0 {
		o.outputs = []Output{NewConsoleOutput()}
	}
	s := newSink(o)
	return &logger{sink: s, sl: slog.New(&handler{sink: s})}
}

type logger struct {
	sink *sink
	sl   *slog.Logger
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *logger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	l.sink.close()
	os.Exit(1)
}

func (l *logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	h := l.sl.Handler()
	if !h.Enabled(ctx, level.slog()) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level.slog(), msg, pcs[0])
	for _, f := range fields {
		r.AddAttrs(f.attr())
	}
	_ = h.Handle(ctx, r)
}

func (l *logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	attrs := make([]any, len(fields))
	for i, f := range fields {
		attrs[i] = f.attr()
	}
	return &logger{sink: l.sink, sl: l.sl.With(attrs...)}
}

func (l *logger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *logger) SetLevel(level Level) { l.sink.level.Store(int32(level)) }
func (l *logger) GetLevel() Level      { return Level(l.sink.level.Load()) }
func (l *logger) Slog() *slog.Logger   { return l.sl }
