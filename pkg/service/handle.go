// Package service provides Handle, the admission-controlled call gateway every
// context capability (auth tokens, signatures, transaction execution) is served through.
//
// A call is two-phased: Ready suspends until the handle's budget admits one more
// in-flight call, then Call dispatches the request. Copies of a Handle share the
// same backend, so the bound holds across every copy.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrUnimplemented is returned by the zero Handle.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrReadyUsed is returned when a Ready permit is called more than once.
	ErrReadyUsed = errors.New("service: ready permit already used")

	// ErrHandlerPanic marks a handler that panicked; it reaches callers through
	// the handle's worker error mapping.
	ErrHandlerPanic = errors.New("service: handler panicked")
)

// HandlerFunc serves a single request.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// backend is what a Handle dispatches to.
type backend[Req, Resp any] interface {
	acquire(ctx context.Context) (permit[Req, Resp], error)
}

// permit is one admitted call slot.
type permit[Req, Resp any] interface {
	call(ctx context.Context, req Req) (Resp, error)
	release()
}

// Handle is a cheaply copyable reference to a service backend.
// The zero Handle fails every call with ErrUnimplemented.
type Handle[Req, Resp any] struct {
	b backend[Req, Resp]
}

// Ready waits until the handle admits one more in-flight call.
// Budget exhaustion is not an error: the caller is suspended until a slot frees
// up or ctx is done.
func (h Handle[Req, Resp]) Ready(ctx context.Context) (*Ready[Req, Resp], error) {
	p, err := h.backend().acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Ready[Req, Resp]{p: p}, nil
}

// Call acquires readiness and issues req.
func (h Handle[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	r, err := h.Ready(ctx)
	if err != nil {
		var zero Resp
		return zero, err
	}
	return r.Call(ctx, req)
}

// Implemented reports whether the handle was built from a handler.
func (h Handle[Req, Resp]) Implemented() bool {
	switch h.b.(type) {
	case nil, *stub[Req, Resp]:
		return false
	}
	return true
}

func (h Handle[Req, Resp]) backend() backend[Req, Resp] {
	if h.b == nil {
		return &stub[Req, Resp]{fail: func() error { return ErrUnimplemented }}
	}
	return h.b
}

// Ready is a single-use admission permit returned by Handle.Ready.
type Ready[Req, Resp any] struct {
	mu   sync.Mutex
	p    permit[Req, Resp]
	used bool
}

// Call issues req using the admitted slot. The slot is returned once the
// handler finishes, even if the caller stopped waiting earlier.
func (r *Ready[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	r.mu.Lock()
	if r.used {
		r.mu.Unlock()
		var zero Resp
		return zero, ErrReadyUsed
	}
	r.used = true
	r.mu.Unlock()
	return r.p.call(ctx, req)
}

// Release gives the slot back without issuing a call. It is a no-op after Call.
func (r *Ready[Req, Resp]) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return
	}
	r.used = true
	r.p.release()
}

// --- unimplemented ---

type stub[Req, Resp any] struct {
	fail func() error
}

// Unimplemented returns a handle that fails every call with fail() and does no
// other work. It has no admission budget.
func Unimplemented[Req, Resp any](fail func() error) Handle[Req, Resp] {
	return Handle[Req, Resp]{b: &stub[Req, Resp]{fail: fail}}
}

func (s *stub[Req, Resp]) acquire(context.Context) (permit[Req, Resp], error) {
	return s, nil
}

func (s *stub[Req, Resp]) call(context.Context, Req) (Resp, error) {
	var zero Resp
	return zero, s.fail()
}

func (s *stub[Req, Resp]) release() {}

// --- from handler ---

// pool bounds concurrent handler invocations with a semaphore channel.
type pool[Req, Resp any] struct {
	handler HandlerFunc[Req, Resp]
	sem     chan struct{}
	opts    options
}

// FromHandler wraps h in a handle that admits at most size concurrent calls.
// A size <= 0 is treated as 1. Errors returned by h reach the caller unchanged;
// panics and abandoned waits are translated by the WithWorkerError mapping.
func FromHandler[Req, Resp any](h HandlerFunc[Req, Resp], size int, opts ...Option) Handle[Req, Resp] {
	if size <= 0 {
		size = 1
	}
	return Handle[Req, Resp]{b: &pool[Req, Resp]{
		handler: h,
		sem:     make(chan struct{}, size),
		opts:    buildOptions(opts),
	}}
}

func (p *pool[Req, Resp]) acquire(ctx context.Context) (permit[Req, Resp], error) {
	start := time.Now()
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.opts.metrics.observe(p.opts.name, outcomeAbandoned)
		return nil, p.opts.worker(ctx.Err())
	}
	p.opts.metrics.admitted(p.opts.name, time.Since(start))
	return &slot[Req, Resp]{pool: p}, nil
}

type result[Resp any] struct {
	resp Resp
	err  error
}

// slot is one acquired unit of a pool's budget.
type slot[Req, Resp any] struct {
	pool *pool[Req, Resp]
	once sync.Once
}

func (s *slot[Req, Resp]) release() {
	s.once.Do(func() {
		<-s.pool.sem
		s.pool.opts.metrics.released(s.pool.opts.name)
	})
}

func (s *slot[Req, Resp]) call(ctx context.Context, req Req) (Resp, error) {
	p := s.pool
	done := make(chan result[Resp], 1)

	hctx, bounded := ctx, false
	if p.opts.timeout != nil {
		if d := p.opts.timeout(req); d > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
			bounded = true
		}
	}
	// One outcome per call, whichever side finishes first.
	var recorded atomic.Bool
	record := func(outcome string) {
		if recorded.CompareAndSwap(false, true) {
			p.opts.metrics.observe(p.opts.name, outcome)
		}
	}
	expired := func() bool {
		return bounded && ctx.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded)
	}

	go func() {
		defer s.release()
		defer func() {
			if r := recover(); r != nil {
				p.opts.logger.Error("service handler panicked",
					slog.String("service", p.opts.name),
					slog.Any("panic", r))
				record(outcomePanic)
				done <- result[Resp]{err: p.opts.worker(fmt.Errorf("%w: %v", ErrHandlerPanic, r))}
			}
		}()

		resp, err := p.handler(hctx, req)
		if err != nil {
			record(outcomeError)
		} else {
			record(outcomeOK)
		}
		done <- result[Resp]{resp: resp, err: err}
	}()

	var zero Resp
	select {
	case r := <-done:
		if r.err != nil && expired() {
			return zero, p.opts.expired()
		}
		return r.resp, r.err
	case <-hctx.Done():
		// The handler keeps its slot until it returns.
		if expired() {
			record(outcomeTimeout)
			p.opts.logger.Debug("service call timed out",
				slog.String("service", p.opts.name))
			return zero, p.opts.expired()
		}
		record(outcomeAbandoned)
		return zero, p.opts.worker(ctx.Err())
	}
}
