package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/flowctx/pkg/chain"
	"github.com/rendis/flowctx/pkg/signer"
)

// LamportsPerSignature is the base fee charged per transaction signature.
const LamportsPerSignature uint64 = 5000

// ChainClient is the subset of the chain RPC surface transaction submission needs.
// *chain.Client satisfies it.
type ChainClient interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*chain.Simulation, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Instructions is an ordered batch of chain operations submitted together as
// one transaction paid for by FeePayer.
//
// Signers lists the keys contributing nodes promised to sign with. When it is
// set, the assembled transaction must require exactly FeePayer plus Signers;
// a nil Signers takes the signer set from the instructions alone.
type Instructions struct {
	FeePayer     solana.PublicKey
	Signers      []solana.PublicKey
	Instructions []solana.Instruction
}

// Empty reports whether there is nothing to submit.
func (ins Instructions) Empty() bool {
	return len(ins.Instructions) == 0
}

// Validate checks that the batch can be assembled.
func (ins Instructions) Validate() error {
	if ins.Empty() {
		return nil
	}
	if ins.FeePayer.IsZero() {
		return TxIncompleteError(errors.New("fee payer not set"))
	}
	for i, ix := range ins.Instructions {
		if ix == nil {
			return TxIncompleteError(fmt.Errorf("instruction %d missing", i))
		}
	}
	for i, key := range ins.Signers {
		if key.IsZero() {
			return TxIncompleteError(fmt.Errorf("signer %d missing", i))
		}
	}
	return nil
}

// checkSigners matches the signers a transaction requires against the
// declared ones.
func (ins Instructions) checkSigners(required []solana.PublicKey) error {
	if ins.Signers == nil {
		return nil
	}
	declared := make(map[solana.PublicKey]bool, len(ins.Signers)+1)
	declared[ins.FeePayer] = true
	for _, key := range ins.Signers {
		declared[key] = true
	}
	needed := make(map[solana.PublicKey]bool, len(required))
	for _, key := range required {
		needed[key] = true
		if !declared[key] {
			return TxIncompleteError(fmt.Errorf("signer %s required but not declared", key))
		}
	}
	for _, key := range ins.Signers {
		if !needed[key] {
			return TxIncompleteError(fmt.Errorf("declared signer %s not used by any instruction", key))
		}
	}
	return nil
}

// Fee is the base fee for a transaction requiring the given signature count.
func Fee(signatures int) uint64 {
	return LamportsPerSignature * uint64(signatures)
}

// Execute assembles the batch into a transaction, collects every required
// signature through sig, simulates it and submits it. sigTimeout bounds each
// signature request.
func (ins Instructions) Execute(ctx context.Context, rpc ChainClient, sig signer.Service, sigTimeout time.Duration, logger *slog.Logger) (solana.Signature, error) {
	if err := ins.Validate(); err != nil {
		return solana.Signature{}, err
	}
	if ins.Empty() {
		return solana.Signature{}, TxIncompleteError(errors.New("no instructions"))
	}

	blockhash, err := rpc.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, SolanaError(err)
	}
	tx, err := solana.NewTransaction(ins.Instructions, blockhash, solana.TransactionPayer(ins.FeePayer))
	if err != nil {
		return solana.Signature{}, OtherError(fmt.Errorf("build transaction: %w", err))
	}

	required := tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures]
	if err := ins.checkSigners(required); err != nil {
		return solana.Signature{}, err
	}
	needed := Fee(len(required))
	balance, err := rpc.Balance(ctx, ins.FeePayer)
	if err != nil {
		return solana.Signature{}, SolanaError(err)
	}
	if balance < needed {
		return solana.Signature{}, InsufficientBalanceError(needed, balance)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, OtherError(fmt.Errorf("serialize message: %w", err))
	}

	signatures := make([]solana.Signature, len(required))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range required {
		g.Go(func() error {
			resp, err := sig.Call(gctx, signer.Request{Pubkey: key, Message: message, Timeout: sigTimeout})
			if err != nil {
				return err
			}
			signatures[i] = resp.Signature
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return solana.Signature{}, signatureFailure(err)
	}
	tx.Signatures = signatures

	sim, err := rpc.Simulate(ctx, tx)
	if err != nil {
		return solana.Signature{}, SolanaError(err)
	}
	if sim.Err != nil {
		logger.Warn("transaction simulation failed",
			slog.Any("error", sim.Err),
			slog.Int("logs", len(sim.Logs)))
		return solana.Signature{}, TxSimFailedError(sim.Err, sim.Logs)
	}

	txSig, err := rpc.Send(ctx, tx)
	if err != nil {
		return solana.Signature{}, SolanaError(err)
	}
	logger.Info("transaction submitted",
		slog.String("signature", txSig.String()),
		slog.Int("signers", len(required)),
		slog.Uint64("units_consumed", sim.UnitsConsumed))
	return txSig, nil
}

func signatureFailure(err error) error {
	switch {
	case errors.Is(err, signer.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Cause: err}
	}
	return SignerError(err)
}
