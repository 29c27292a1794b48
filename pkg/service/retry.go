package service

import (
	"context"
	"log/slog"
)

// Policy decides whether a finished call is re-issued.
//
// Retry is given the original request and the outcome of the last attempt. It
// returns the policy state for the next attempt and true to retry, or false to
// hand the outcome to the caller. Policies are values: every call starts from
// the state passed to WithRetry.
type Policy[Req, Resp any] interface {
	Retry(req Req, resp Resp, err error) (Policy[Req, Resp], bool)
}

type retrying[Req, Resp any] struct {
	inner  Handle[Req, Resp]
	policy Policy[Req, Resp]
	opts   options
}

// WithRetry wraps h so each call is re-issued with the identical request while
// policy asks for it. Every attempt is admitted by h's own budget; readiness of
// the returned handle is readiness of h for the first attempt.
func WithRetry[Req, Resp any](h Handle[Req, Resp], policy Policy[Req, Resp], opts ...Option) Handle[Req, Resp] {
	if policy == nil {
		return h
	}
	return Handle[Req, Resp]{b: &retrying[Req, Resp]{
		inner:  h,
		policy: policy,
		opts:   buildOptions(opts),
	}}
}

func (r *retrying[Req, Resp]) acquire(ctx context.Context) (permit[Req, Resp], error) {
	first, err := r.inner.Ready(ctx)
	if err != nil {
		return nil, err
	}
	return &retryPermit[Req, Resp]{r: r, first: first}, nil
}

type retryPermit[Req, Resp any] struct {
	r     *retrying[Req, Resp]
	first *Ready[Req, Resp]
}

func (p *retryPermit[Req, Resp]) release() {
	p.first.Release()
}

func (p *retryPermit[Req, Resp]) call(ctx context.Context, req Req) (Resp, error) {
	policy := p.r.policy
	resp, err := p.first.Call(ctx, req)
	for attempt := 1; ; attempt++ {
		next, retry := policy.Retry(req, resp, err)
		if !retry {
			return resp, err
		}
		p.r.opts.logger.ErrorContext(ctx, "service call failed, retrying",
			slog.String("service", p.r.opts.name),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		policy = next
		resp, err = p.r.inner.Call(ctx, req)
	}
}
