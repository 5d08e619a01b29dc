package health

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

// Probe is evaluated at request time; nil means pass.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every probe passes and returns the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Timeout bounds a probe. A probe that ignores its context still runs to
// completion in the background but the check reports failure on time.
func Timeout(p Probe, d time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- p.Check(ctx) }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return xerrors.Wrap(ctx.Err(), "probe timed out")
		}
	}
}

// DirWritable creates and removes a scratch file in dir.
func DirWritable(dir string) CheckFunc {
	return func(context.Context) error {
		f, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return xerrors.Wrapf(err, "data dir %s not writable", dir)
		}
		name := f.Name()
		_ = f.Close()
		if err := os.Remove(name); err != nil {
			return xerrors.Wrapf(err, "remove probe file")
		}
		return nil
	}
}

// ShutdownGate fails readiness once Set is called, so the load balancer
// stops routing before the listener closes.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
