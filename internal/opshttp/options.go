package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cv/internal/health"
)

// DefaultPort is the ops listener port when Options.Port is zero.
const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	OnPanic      func()

	// AllowPublic disables the private-network guard. Only for tests and
	// local runs bound to loopback.
	AllowPublic bool
}
