package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/health"
	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
)

// DefaultMaxBodyBytes caps API request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

type Options struct {
	Logger log.Logger
	Port   int

	// Routes mounts the API on the router.
	Routes func(chi.Router)

	MaxBodyBytes int64
	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	UseRecoverMW bool
	OnPanic      func()

	// Health and Readiness are also served on the public listener for the
	// load balancer target group.
	Health    health.Probe
	Readiness health.Probe
}
