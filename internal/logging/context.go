package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey int

const (
	flowRunIDKey ctxKey = iota
	nodeIDKey
	timesKey
)

// WithFlowRunID returns a context with the flow run ID set.
func WithFlowRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, flowRunIDKey, id)
}

// WithNodeID returns a context with the node ID set.
func WithNodeID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// WithTimes returns a context with the node invocation counter set.
func WithTimes(ctx context.Context, times uint32) context.Context {
	return context.WithValue(ctx, timesKey, times)
}

// FlowRunID extracts the flow run ID from the context.
func FlowRunID(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(flowRunIDKey).(uuid.UUID)
	return v, ok
}

// NodeID extracts the node ID from the context.
func NodeID(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(nodeIDKey).(uuid.UUID)
	return v, ok
}

// Times extracts the node invocation counter from the context.
func Times(ctx context.Context) (uint32, bool) {
	v, ok := ctx.Value(timesKey).(uint32)
	return v, ok
}

// WithIDs sets all three correlation values on the context at once.
func WithIDs(ctx context.Context, flowRunID, nodeID uuid.UUID, times uint32) context.Context {
	ctx = WithFlowRunID(ctx, flowRunID)
	ctx = WithNodeID(ctx, nodeID)
	ctx = WithTimes(ctx, times)
	return ctx
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v, ok := FlowRunID(ctx); ok {
		out = append(out, slog.String("flow_run_id", v.String()))
	}
	if v, ok := NodeID(ctx); ok {
		out = append(out, slog.String("node_id", v.String()))
	}
	if v, ok := Times(ctx); ok {
		out = append(out, slog.Uint64("times", uint64(v)))
	}
	return out
}

// LogWith returns a logger enriched with correlation values from the context.
// Only values present on the context are added.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation values from
// the context into every record. Use with slog.New(NewCorrelationHandler(inner))
// so logger.InfoContext(ctx, ...) carries them automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
