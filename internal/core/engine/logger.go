package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

// LogLevel orders log severities for filtering.
type LogLevel int8

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// LogField is a key-value pair attached to a structured log entry.
type LogField struct {
	Key   string
	Value any
}

// Field builds a LogField.
func Field(key string, value any) LogField {
	return LogField{Key: key, Value: value}
}

// Logger is the structured logging surface used across the engine.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...LogField)
	Info(ctx context.Context, msg string, fields ...LogField)
	Warn(ctx context.Context, msg string, fields ...LogField)
	Error(ctx context.Context, msg string, err error, fields ...LogField)
	WithFields(fields ...LogField) Logger
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(context.Context, string, ...LogField)        {}
func (NoOpLogger) Info(context.Context, string, ...LogField)         {}
func (NoOpLogger) Warn(context.Context, string, ...LogField)         {}
func (NoOpLogger) Error(context.Context, string, error, ...LogField) {}
func (n NoOpLogger) WithFields(...LogField) Logger                   { return n }

// StdLogger writes formatted entries to a writer, including the trace
// ID carried by the context when present.
type StdLogger struct {
	minLevel LogLevel
	fields   []LogField
	out      *log.Logger
}

// NewStdLogger builds a logger filtering below minLevel. A nil writer
// discards output.
func NewStdLogger(minLevel LogLevel, w io.Writer) *StdLogger {
	if w == nil {
		w = io.Discard
	}
	return &StdLogger{minLevel: minLevel, out: log.New(w, "", 0)}
}

func (s *StdLogger) Debug(ctx context.Context, msg string, fields ...LogField) {
	s.write(ctx, LogLevelDebug, msg, nil, fields)
}

func (s *StdLogger) Info(ctx context.Context, msg string, fields ...LogField) {
	s.write(ctx, LogLevelInfo, msg, nil, fields)
}

func (s *StdLogger) Warn(ctx context.Context, msg string, fields ...LogField) {
	s.write(ctx, LogLevelWarn, msg, nil, fields)
}

func (s *StdLogger) Error(ctx context.Context, msg string, err error, fields ...LogField) {
	s.write(ctx, LogLevelError, msg, err, fields)
}

func (s *StdLogger) WithFields(fields ...LogField) Logger {
	return &StdLogger{
		minLevel: s.minLevel,
		fields:   append(append([]LogField{}, s.fields...), fields...),
		out:      s.out,
	}
}

func (s *StdLogger) write(ctx context.Context, level LogLevel, msg string, err error, fields []LogField) {
	if level < s.minLevel {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s]", time.Now().Format(time.RFC3339), level)
	if err != nil {
		fmt.Fprintf(&b, " [error=%q]", err.Error())
	}
	b.WriteByte(' ')
	b.WriteString(msg)

	all := append(append([]LogField{}, s.fields...), fields...)
	if traceID := getTraceID(ctx); traceID != "" {
		all = append(all, Field("trace_id", traceID))
	}
	if len(all) > 0 {
		parts := make([]string, 0, len(all))
		for _, f := range all {
			parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
		}
		fmt.Fprintf(&b, " fields=[%s]", strings.Join(parts, " "))
	}

	s.out.Println(b.String())
}

type traceIDKey struct{}

// WithTraceID stores a trace ID on the context for log correlation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

func generateTraceID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
