// Package execute turns instructions accumulated by nodes into submitted
// transactions.
package execute

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rendis/flowctx/pkg/service"
	"github.com/rendis/flowctx/pkg/signer"
)

// DefaultSignatureTimeout bounds each signature request made while executing.
const DefaultSignatureTimeout = 60 * time.Second

// Request carries a node's instructions and its named output values.
type Request struct {
	Instructions Instructions
	Output       map[string]any
}

// Response carries the transaction signature, or nil when no transaction was
// submitted.
type Response struct {
	Signature *solana.Signature
}

// Service is the handle nodes submit instructions through.
type Service = service.Handle[Request, Response]

// Handler serves execution requests.
type Handler = service.HandlerFunc[Request, Response]

// NewService builds an execution service from h, bounded to size concurrent calls.
func NewService(h Handler, size int, opts ...service.Option) Service {
	opts = append([]service.Option{
		service.WithName("execute"),
		service.WithWorkerError(WorkerError),
	}, opts...)
	return service.FromHandler(h, size, opts...)
}

// UnimplementedService fails every call.
func UnimplementedService() Service {
	return service.Unimplemented[Request, Response](func() error {
		return OtherError(errors.New("unimplemented"))
	})
}

// SimpleStrategy submits each request as its own transaction.
type SimpleStrategy struct {
	Chain            ChainClient
	Signer           signer.Service
	SignatureTimeout time.Duration
	Logger           *slog.Logger
}

// Serve implements Handler.
func (s *SimpleStrategy) Serve(ctx context.Context, req Request) (Response, error) {
	if err := req.Instructions.Validate(); err != nil {
		return Response{}, err
	}
	if req.Instructions.Empty() {
		return Response{}, nil
	}
	timeout := s.SignatureTimeout
	if timeout <= 0 {
		timeout = DefaultSignatureTimeout
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sig, err := req.Instructions.Execute(ctx, s.Chain, s.Signer, timeout, logger)
	if err != nil {
		return Response{}, err
	}
	return Response{Signature: &sig}, nil
}

// Simple returns the reference execution service: every request is built,
// signed through sig, simulated and submitted via rpc, with at most size
// requests in flight.
func Simple(rpc ChainClient, sig signer.Service, size int, opts ...service.Option) Service {
	s := &SimpleStrategy{Chain: rpc, Signer: sig, SignatureTimeout: DefaultSignatureTimeout}
	return NewService(s.Serve, size, opts...)
}
