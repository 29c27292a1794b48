package service

import (
	"log/slog"
	"time"
)

type options struct {
	name    string
	worker  func(error) error
	logger  *slog.Logger
	metrics *Metrics

	timeout func(req any) time.Duration
	expired func() error
}

// Option configures a handle built by FromHandler or WithRetry.
type Option func(*options)

// WithName labels the handle in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithWorkerError sets the mapping applied to failures that happen outside the
// handler's own return path: recovered panics and callers abandoning a wait.
// Capabilities use it to surface their own "worker" error kind.
func WithWorkerError(fn func(error) error) Option {
	return func(o *options) {
		if fn != nil {
			o.worker = fn
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRequestTimeout bounds each call by the duration fn returns for its
// request; zero or negative means unbounded. A call that runs past its bound
// fails with the error returned by expired, while the handler keeps its slot
// until it returns.
func WithRequestTimeout[Req any](fn func(Req) time.Duration, expired func() error) Option {
	return func(o *options) {
		if fn == nil || expired == nil {
			return
		}
		o.timeout = func(req any) time.Duration {
			r, ok := req.(Req)
			if !ok {
				return 0
			}
			return fn(r)
		}
		o.expired = expired
	}
}

func buildOptions(opts []Option) options {
	o := options{
		name:   "service",
		worker: func(err error) error { return err },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
