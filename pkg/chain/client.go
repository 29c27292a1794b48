// Package chain talks to a Solana JSON-RPC endpoint.
package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Simulation is the outcome of a transaction simulation. Err is nil when the
// transaction would succeed.
type Simulation struct {
	Err           any
	Logs          []string
	UnitsConsumed uint64
}

// Client is safe for concurrent use and meant to be shared by pointer.
type Client struct {
	rpc        *rpc.Client
	url        string
	commitment rpc.CommitmentType
}

// Option configures a Client.
type Option func(*Client)

// WithCommitment sets the commitment level used for reads and preflight.
func WithCommitment(c string) Option {
	return func(cl *Client) {
		if c != "" {
			cl.commitment = rpc.CommitmentType(c)
		}
	}
}

// New returns a client for the endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		rpc:        rpc.New(url),
		url:        url,
		commitment: rpc.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the endpoint the client talks to.
func (c *Client) URL() string { return c.url }

// RPC exposes the underlying solana-go client.
func (c *Client) RPC() *rpc.Client { return c.rpc }

// Balance returns the lamport balance of account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// LatestBlockhash returns a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: empty result")
	}
	return out.Value.Blockhash, nil
}

// Simulate runs tx through the node's simulator without signature checks.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) (*Simulation, error) {
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("simulateTransaction: empty result")
	}
	sim := &Simulation{Err: out.Value.Err, Logs: out.Value.Logs}
	if out.Value.UnitsConsumed != nil {
		sim.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return sim, nil
}

// Send submits a signed transaction. Preflight is skipped because callers
// simulate first.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: c.commitment,
	})
}
