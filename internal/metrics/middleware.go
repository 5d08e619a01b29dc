package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
)

// meteredWriter records the first status written and the body size.
type meteredWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *meteredWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *meteredWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *meteredWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *meteredWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Middleware records in-flight, count, latency and size per method and chi
// route pattern. Unrouted requests share the "unmatched" label.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = httpmw.WithRouteContext(r)

		m.inflight.Inc()
		defer m.inflight.Dec()

		mw := &meteredWriter{ResponseWriter: w}
		next.ServeHTTP(mw, r)

		m.observe(r.Context(), r.Method, httpmw.RoutePattern(r), mw.code(), mw.n, time.Since(start))
	})
}

func (m *ServerMetrics) observe(ctx context.Context, method, route string, code, size int, elapsed time.Duration) {
	m.reqTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	if code >= http.StatusInternalServerError {
		m.errorsTotal.WithLabelValues(method, route).Inc()
	}

	dur := m.reqDur.WithLabelValues(method, route)
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := dur.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(elapsed.Seconds(), ex)
		} else {
			dur.Observe(elapsed.Seconds())
		}
	} else {
		dur.Observe(elapsed.Seconds())
	}

	m.respBytes.WithLabelValues(method, route).Observe(float64(size))
}

// traceExemplar links latency samples to sampled traces.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
