package execute

import (
	"context"
	"errors"
	"fmt"

	"github.com/rendis/flowctx/pkg/chain"
)

// Kind classifies an execution failure.
type Kind int

const (
	KindOther                     Kind = iota
	KindCanceled                       // caller aborted
	KindNotAvailable                   // context carries no execution capability
	KindTxIncomplete                   // a contributing node did not supply its instructions
	KindTimeout                        // deadline hit before completion
	KindInsufficientSolanaBalance      // funding check failed before submission
	KindTxSimFailed                    // pre-submission simulation rejected the transaction
	KindSolana                         // chain client failure
	KindSigner                         // signature could not be obtained
	KindMailBox                        // executor unreachable
	KindWorker                         // internal failure of the serving worker
	KindChannelClosed                  // result channel closed before a reply
)

func (k Kind) String() string {
	switch k {
	case KindCanceled:
		return "canceled"
	case KindNotAvailable:
		return "not_available"
	case KindTxIncomplete:
		return "tx_incomplete"
	case KindTimeout:
		return "timeout"
	case KindInsufficientSolanaBalance:
		return "insufficient_solana_balance"
	case KindTxSimFailed:
		return "tx_sim_failed"
	case KindSolana:
		return "solana"
	case KindSigner:
		return "signer"
	case KindMailBox:
		return "mailbox"
	case KindWorker:
		return "worker"
	case KindChannelClosed:
		return "channel_closed"
	default:
		return "other"
	}
}

// Error is the error type returned by the execution service.
type Error struct {
	Kind Kind
	// Needed and Balance are lamport amounts for KindInsufficientSolanaBalance.
	Needed  uint64
	Balance uint64
	// Logs holds program logs for KindTxSimFailed.
	Logs  []string
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCanceled:
		return "canceled"
	case KindNotAvailable:
		return "not available on this Context"
	case KindTxIncomplete:
		return "some node failed to provide instructions"
	case KindTimeout:
		return "time out"
	case KindInsufficientSolanaBalance:
		return fmt.Sprintf("insufficient solana balance, needed=%d; have=%d;", e.Needed, e.Balance)
	case KindTxSimFailed:
		return "transaction simulation failed"
	case KindSolana:
		return chain.Verbose(e.Cause)
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches kind sentinels such as ErrNotAvailable.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Cause != nil || t.Needed != 0 || t.Balance != 0 || t.Logs != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrCanceled                  = &Error{Kind: KindCanceled}
	ErrNotAvailable              = &Error{Kind: KindNotAvailable}
	ErrTxIncomplete              = &Error{Kind: KindTxIncomplete}
	ErrTimeout                   = &Error{Kind: KindTimeout}
	ErrInsufficientSolanaBalance = &Error{Kind: KindInsufficientSolanaBalance}
	ErrTxSimFailed               = &Error{Kind: KindTxSimFailed}
	ErrSolana                    = &Error{Kind: KindSolana}
	ErrSigner                    = &Error{Kind: KindSigner}
	ErrMailBox                   = &Error{Kind: KindMailBox}
	ErrWorker                    = &Error{Kind: KindWorker}
	ErrChannelClosed             = &Error{Kind: KindChannelClosed}
	ErrOther                     = &Error{Kind: KindOther}
)

// NotAvailableError reports a context without an execution capability.
func NotAvailableError() *Error { return &Error{Kind: KindNotAvailable} }

// TxIncompleteError reports missing instructions.
func TxIncompleteError(cause error) *Error { return &Error{Kind: KindTxIncomplete, Cause: cause} }

// InsufficientBalanceError reports a failed funding check.
func InsufficientBalanceError(needed, balance uint64) *Error {
	return &Error{Kind: KindInsufficientSolanaBalance, Needed: needed, Balance: balance}
}

// TxSimFailedError reports a rejected simulation with its program logs.
func TxSimFailedError(simErr any, logs []string) *Error {
	return &Error{Kind: KindTxSimFailed, Logs: logs, Cause: fmt.Errorf("simulation error: %v", simErr)}
}

// SolanaError wraps a chain client failure.
func SolanaError(err error) *Error { return &Error{Kind: KindSolana, Cause: err} }

// SignerError wraps a failure to obtain a signature.
func SignerError(err error) *Error { return &Error{Kind: KindSigner, Cause: err} }

// MailBoxError wraps a failure to reach the executor.
func MailBoxError(err error) *Error { return &Error{Kind: KindMailBox, Cause: err} }

// ChannelClosedError reports a reply channel closed without a result.
func ChannelClosedError() *Error {
	return &Error{Kind: KindChannelClosed, Cause: errors.New("reply channel closed")}
}

// OtherError wraps an unclassified failure.
func OtherError(err error) *Error { return &Error{Kind: KindOther, Cause: err} }

// WorkerError maps failures outside the handler's return path. Context
// cancellation becomes KindCanceled and deadlines KindTimeout; typed execution
// errors pass unchanged.
func WorkerError(err error) error {
	var ee *Error
	switch {
	case errors.As(err, &ee):
		return err
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Cause: err}
	}
	return &Error{Kind: KindWorker, Cause: err}
}
