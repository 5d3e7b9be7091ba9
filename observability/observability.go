package observability

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type float64Field struct {
	key string
	val float64
}

func (f float64Field) Key() string        { return f.key }
func (f float64Field) Value() interface{} { return f.val }

type boolField struct {
	key string
	val bool
}

func (f boolField) Key() string        { return f.key }
func (f boolField) Value() interface{} { return f.val }

type durationField struct {
	key string
	val time.Duration
}

func (f durationField) Key() string        { return f.key }
func (f durationField) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field                 { return stringField{key, value} }
func Int(key string, value int) Field                { return intField{key, value} }
func Int64(key string, value int64) Field            { return int64Field{key, value} }
func Float64(key string, value float64) Field        { return float64Field{key, value} }
func Bool(key string, value bool) Field              { return boolField{key, value} }
func Duration(key string, value time.Duration) Field { return durationField{key, value} }
func Error(key string, err error) Field              { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// Tracer provides tracing hooks around runs and items.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// NewLogTracer returns a tracer whose spans are emitted as debug log lines
// carrying their tags and duration. Failed spans are logged at warn.
func NewLogTracer(logger Logger) Tracer {
	if logger == nil {
		logger = NopLogger{}
	}
	return logTracer{logger: logger}
}

type logTracer struct{ logger Logger }

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{logger: t.logger, name: name, start: time.Now()}
}

type logSpan struct {
	logger Logger
	name   string
	start  time.Time
	fields []Field
	err    error
}

func (s *logSpan) SetTag(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.fields = append(s.fields, String(key, v))
	case int:
		s.fields = append(s.fields, Int(key, v))
	case int64:
		s.fields = append(s.fields, Int64(key, v))
	case float64:
		s.fields = append(s.fields, Float64(key, v))
	case bool:
		s.fields = append(s.fields, Bool(key, v))
	default:
		s.fields = append(s.fields, anyField{key, v})
	}
}

func (s *logSpan) SetError(err error) { s.err = err }

func (s *logSpan) Finish() {
	fields := append(s.fields, String("span", s.name), Duration("elapsed", time.Since(s.start)))
	if s.err != nil {
		s.logger.Warn("span failed", append(fields, Error("error", s.err))...)
		return
	}
	s.logger.Debug("span finished", fields...)
}

type anyField struct {
	key string
	val interface{}
}

func (f anyField) Key() string        { return f.key }
func (f anyField) Value() interface{} { return f.val }

// Standard metric names emitted by the library.
const (
	MetricRunsTotal      = "runs_total"
	MetricRunDuration    = "run_duration_seconds"
	MetricItemsRendered  = "items_rendered_total"
	MetricItemDuration   = "item_render_duration_seconds"
	MetricPagesWritten   = "pages_written_total"
	MetricObjectsWritten = "pdf_objects_written_total"
	MetricBytesWritten   = "pdf_bytes_written_total"
	MetricProgress       = "progress_percent"
)
