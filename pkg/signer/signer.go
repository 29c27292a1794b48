// Package signer requests signatures from wallets that hold keys outside the
// engine. Each call is exactly one attempt; callers wanting another try issue a
// new request.
package signer

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rendis/flowctx/pkg/service"
)

// Request asks the holder of Pubkey to sign Message within Timeout.
// A zero Timeout means no per-request deadline.
type Request struct {
	Pubkey  solana.PublicKey
	Message []byte
	Timeout time.Duration
}

// Response carries the produced signature.
type Response struct {
	Signature solana.Signature
}

// Service is the handle nodes request signatures through.
type Service = service.Handle[Request, Response]

// Handler serves signature requests.
type Handler = service.HandlerFunc[Request, Response]

// New builds a signer service from h, bounded to size concurrent requests.
// Each request is bounded by its own Timeout whether or not h watches ctx; a
// request that runs past it yields a KindTimeout error while h keeps its slot
// until it returns.
func New(h Handler, size int, opts ...service.Option) Service {
	opts = append([]service.Option{
		service.WithName("signer"),
		service.WithWorkerError(WorkerError),
		service.WithRequestTimeout(func(req Request) time.Duration { return req.Timeout },
			func() error { return TimeoutError() }),
	}, opts...)
	return service.FromHandler(h, size, opts...)
}

// UnimplementedService fails every call with a worker error.
func UnimplementedService() Service {
	return service.Unimplemented[Request, Response](func() error {
		return &Error{Kind: KindWorker, Cause: errors.New("unimplemented")}
	})
}

// KeypairHandler signs with keys held in process. Requests for any other key
// fail with KindPubkey.
func KeypairHandler(keys ...solana.PrivateKey) Handler {
	byPubkey := make(map[solana.PublicKey]solana.PrivateKey, len(keys))
	for _, k := range keys {
		byPubkey[k.PublicKey()] = k
	}
	return func(ctx context.Context, req Request) (Response, error) {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		key, ok := byPubkey[req.Pubkey]
		if !ok {
			return Response{}, PubkeyError(req.Pubkey)
		}
		sig, err := key.Sign(req.Message)
		if err != nil {
			return Response{}, OtherError(err)
		}
		return Response{Signature: sig}, nil
	}
}
