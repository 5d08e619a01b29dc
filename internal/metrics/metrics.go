package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-cv/internal/version"
)

type ServerMetrics struct {
	reg                  *prometheus.Registry
	handler              http.Handler
	inflight             prometheus.Gauge
	reqTotal             *prometheus.CounterVec
	reqDur               *prometheus.HistogramVec
	respBytes            *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	httpPanicTotal       prometheus.Counter
	buildInfo            *prometheus.GaugeVec
	ratelimitDeniedTotal prometheus.Counter
	profilingActive      prometheus.Gauge

	// content store
	storeWritesTotal       *prometheus.CounterVec
	storeBackupsTotal      prometheus.Counter
	storePrunedTotal       prometheus.Counter
	storeRecoveriesTotal   prometheus.Counter
	storeMirrorFailedTotal prometheus.Counter
	storeLastWriteTs       prometheus.Gauge

	// auth
	loginsTotal        *prometheus.CounterVec
	tokenRejectedTotal *prometheus.CounterVec
}

var (
	// route labels come from chi patterns, never raw paths
	routeLabels  = []string{"method", "route"}
	statusLabels = []string{"method", "route", "status"}
	buildLabels  = []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}

	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// top bucket is the API body limit
	sizeBuckets = prometheus.ExponentialBuckets(256, 4, 7)
)

// New builds a private registry holding the runtime collectors plus the
// HTTP, content store and auth series.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{reg: reg}
	m.inflight = f.NewGauge(prometheus.GaugeOpts{
		Name: "http_inflight_requests", Help: "HTTP requests currently being served",
	})
	m.reqTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total", Help: "HTTP requests served, by route and status",
	}, statusLabels)
	m.reqDur = f.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds", Help: "HTTP handler latency", Buckets: latencyBuckets,
	}, routeLabels)
	m.respBytes = f.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_size_bytes", Help: "HTTP response body size", Buckets: sizeBuckets,
	}, routeLabels)
	m.errorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total", Help: "HTTP responses with a 5xx status",
	}, routeLabels)
	m.httpPanicTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "http_panic_total", Help: "Handler panics recovered by the server",
	})
	m.ratelimitDeniedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "http_requests_rate_limited_total", Help: "Requests refused by the per-IP limiter",
	})
	m.buildInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info", Help: "Build metadata, always 1",
	}, buildLabels)
	m.profilingActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "profiling_active", Help: "1 while the continuous profiler is running",
	})

	m.storeWritesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cv_store_writes_total", Help: "Successful content store writes by operation",
	}, []string{"op"})
	m.storeBackupsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "cv_store_backups_created_total", Help: "Backups created by the save protocol",
	})
	m.storePrunedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "cv_store_backups_pruned_total", Help: "Backups removed by retention",
	})
	m.storeRecoveriesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "cv_store_recoveries_total", Help: "Unreadable live documents replaced with the default document",
	})
	m.storeMirrorFailedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "cv_store_mirror_failures_total", Help: "Backups that could not be copied to the off-site mirror",
	})
	m.storeLastWriteTs = f.NewGauge(prometheus.GaugeOpts{
		Name: "cv_store_last_write_timestamp_seconds", Help: "Unix time of the last successful content store write",
	})

	m.loginsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cv_auth_logins_total", Help: "Login attempts by result",
	}, []string{"result"})
	m.tokenRejectedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "cv_auth_tokens_rejected_total", Help: "Bearer tokens rejected by reason",
	}, []string{"reason"})

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// SetBuildInfoFromVersion publishes the build_info series; call once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() { m.ratelimitDeniedTotal.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.profilingActive.Set(v)
}
