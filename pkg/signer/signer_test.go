package signer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

func TestKeypairHandler_Signs(t *testing.T) {
	key := newKey(t)
	svc := New(KeypairHandler(key), 1)

	msg := []byte("transfer 1 SOL")
	resp, err := svc.Call(context.Background(), Request{Pubkey: key.PublicKey(), Message: msg, Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, resp.Signature.Verify(key.PublicKey(), msg))
}

func TestKeypairHandler_UnknownPubkey(t *testing.T) {
	held := newKey(t)
	other := newKey(t)

	_, err := New(KeypairHandler(held), 1).Call(context.Background(), Request{Pubkey: other.PublicKey(), Message: []byte("m")})
	require.ErrorIs(t, err, ErrPubkey)
	assert.EqualError(t, err, "can't sign for pubkey: "+other.PublicKey().String())
}

func TestNew_TimeoutWhenHandlerBlocks(t *testing.T) {
	var calls int64
	h := func(ctx context.Context, req Request) (Response, error) {
		atomic.AddInt64(&calls, 1)
		<-ctx.Done()
		return Response{}, ctx.Err()
	}

	start := time.Now()
	_, err := New(h, 1).Call(context.Background(), Request{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.EqualError(t, err, "timeout")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "signer never retries")
}

func TestNew_TimeoutWhenHandlerIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := func(_ context.Context, req Request) (Response, error) {
		<-release
		return Response{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := New(h, 1).Call(ctx, Request{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNew_NoTimeoutMeansNoDeadline(t *testing.T) {
	h := func(ctx context.Context, req Request) (Response, error) {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return Response{}, nil
	}
	_, err := New(h, 1).Call(context.Background(), Request{})
	assert.NoError(t, err)
}

func TestNew_CallerCancelIsNotTimeout(t *testing.T) {
	h := func(ctx context.Context, req Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := New(h, 1).Call(ctx, Request{Timeout: time.Minute})
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_HandlerErrorsPassThrough(t *testing.T) {
	h := func(ctx context.Context, req Request) (Response, error) {
		return Response{}, UserError()
	}
	_, err := New(h, 1).Call(context.Background(), Request{Timeout: time.Second})
	assert.ErrorIs(t, err, ErrUser)
	assert.EqualError(t, err, "can't sign for this user")
}

func TestUnimplementedService(t *testing.T) {
	_, err := UnimplementedService().Call(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrWorker)
	assert.EqualError(t, err, "unimplemented")
}

func TestWorkerError(t *testing.T) {
	typed := TimeoutError()
	assert.Same(t, typed, WorkerError(typed))
	assert.ErrorIs(t, WorkerError(errors.New("x")), ErrWorker)
}
