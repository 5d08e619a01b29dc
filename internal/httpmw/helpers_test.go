package httpmw

import (
	"context"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
)

type entry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// recLogger records every call; With accumulates fields onto the child.
type recLogger struct {
	mu      *sync.Mutex
	entries *[]entry
	fields  []any
}

func newRecLogger() *recLogger {
	return &recLogger{mu: &sync.Mutex{}, entries: &[]entry{}}
}

func (l *recLogger) With(kv ...any) log.Logger {
	f := append(append([]any{}, l.fields...), kv...)
	return &recLogger{mu: l.mu, entries: l.entries, fields: f}
}

func (l *recLogger) add(level, msg string, err error, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.fields...), kv...)
	*l.entries = append(*l.entries, entry{level: level, msg: msg, err: err, kv: all})
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *recLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *recLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) all() []entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entry(nil), *l.entries...)
}

func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

// recordingContext returns a context holding a live span from a recorder-backed provider.
func recordingContext(t *testing.T) (context.Context, *tracetest.SpanRecorder, func()) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "server")
	return ctx, sr, func() { span.End() }
}
