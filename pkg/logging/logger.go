// Package logging provides structured logging for the reliable messaging
// listener. Entries carry the sequence and channel they concern so a
// session can be followed across the pump, the session table and the
// inner transport.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
)

// Level represents the severity of a log message
type Level int

const (
	// DebugLevel is for per-message tracing
	DebugLevel Level = iota - 1
	// InfoLevel is for lifecycle events
	InfoLevel
	// WarnLevel is for recovered failures
	WarnLevel
	// ErrorLevel is for failures that fault a session or listener
	ErrorLevel
	// FatalLevel terminates the program
	FatalLevel
)

// String returns the string representation of a log level
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string to a Level. Unknown names map to InfoLevel.
func ParseLevel(name string) Level {
	switch name {
	case "debug", "DEBUG":
		return DebugLevel
	case "warn", "WARN", "warning":
		return WarnLevel
	case "error", "ERROR":
		return ErrorLevel
	case "fatal", "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Well-known field keys lifted into Entry
const (
	KeyRequestID  = "request_id"
	KeySequenceID = "sequence_id"
	KeyChannelID  = "channel_id"
	KeyComponent  = "component"
	KeyOperation  = "operation"
)

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates a 64-bit integer field, used for message numbers
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// SequenceID tags an entry with a reliable sequence identifier
func SequenceID(id string) Field {
	return Field{Key: KeySequenceID, Value: id}
}

// ChannelID tags an entry with an inner channel identifier
func ChannelID(id string) Field {
	return Field{Key: KeyChannelID, Value: id}
}

// Component tags an entry with the emitting component
func Component(name string) Field {
	return Field{Key: KeyComponent, Value: name}
}

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits
	Fatal(msg string, fields ...Field)

	// WithFields returns a new logger with additional fields
	WithFields(fields ...Field) Logger
	// WithContext returns a new logger carrying the request ID in ctx, if any
	WithContext(ctx context.Context) Logger
	// WithError returns a new logger with error context
	WithError(err error) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Entry represents a log entry
type Entry struct {
	Level      Level
	Message    string
	Fields     map[string]interface{}
	Timestamp  time.Time
	RequestID  string
	SequenceID string
	ChannelID  string
	Component  string
	Operation  string
}

// Formatter formats log entries
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

type baseLogger struct {
	mu        *sync.Mutex
	level     *levelHolder
	output    io.Writer
	formatter Formatter
	fields    map[string]interface{}
}

// levelHolder is shared between a logger and the loggers derived from it,
// so SetLevel on the root applies to every child.
type levelHolder struct {
	mu    sync.RWMutex
	level Level
}

func (h *levelHolder) get() Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.level
}

func (h *levelHolder) set(level Level) {
	h.mu.Lock()
	h.level = level
	h.mu.Unlock()
}

// New creates a new structured logger
func New(output io.Writer, formatter Formatter) Logger {
	if output == nil {
		output = os.Stdout
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}

	return &baseLogger{
		mu:        &sync.Mutex{},
		level:     &levelHolder{level: InfoLevel},
		output:    output,
		formatter: formatter,
		fields:    make(map[string]interface{}),
	}
}

func (l *baseLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

func (l *baseLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

func (l *baseLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

func (l *baseLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

func (l *baseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *baseLogger) WithFields(fields ...Field) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &baseLogger{
		mu:        l.mu,
		level:     l.level,
		output:    l.output,
		formatter: l.formatter,
		fields:    newFields,
	}
}

func (l *baseLogger) WithContext(ctx context.Context) Logger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return l.WithFields(String(KeyRequestID, requestID))
	}
	return l
}

// WithError attaches err and, for RM errors, its code, category and context
func (l *baseLogger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}

	if rmErr, ok := rmerrors.AsRMError(err); ok {
		fields = append(fields,
			String("error_code", fmt.Sprintf("%d", rmErr.Code())),
			String("error_category", string(rmErr.Category())),
			String("error_severity", string(rmErr.Severity())),
		)

		if ctx := rmErr.Context(); ctx != nil {
			if ctx.RequestID != "" {
				fields = append(fields, String(KeyRequestID, ctx.RequestID))
			}
			if ctx.SequenceID != "" {
				fields = append(fields, SequenceID(ctx.SequenceID))
			}
			if ctx.ChannelID != "" {
				fields = append(fields, ChannelID(ctx.ChannelID))
			}
			if ctx.Component != "" {
				fields = append(fields, Component(ctx.Component))
			}
			if ctx.Operation != "" {
				fields = append(fields, String(KeyOperation, ctx.Operation))
			}
		}
	}

	return l.WithFields(fields...)
}

func (l *baseLogger) SetLevel(level Level) {
	l.level.set(level)
}

func (l *baseLogger) GetLevel() Level {
	return l.level.get()
}

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level.get() {
		return
	}

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]interface{}, len(l.fields)+len(fields)),
		Timestamp: time.Now(),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	entry.RequestID = stringField(entry.Fields, KeyRequestID)
	entry.SequenceID = stringField(entry.Fields, KeySequenceID)
	entry.ChannelID = stringField(entry.Fields, KeyChannelID)
	entry.Component = stringField(entry.Fields, KeyComponent)
	entry.Operation = stringField(entry.Fields, KeyOperation)

	data, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to format log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.output.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
	}
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	l := New(io.Discard, NewTextFormatter())
	l.SetLevel(FatalLevel + 1)
	return l
}

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID returns a context with a request ID
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from a context
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
