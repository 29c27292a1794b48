package signer

import (
	"errors"
	"fmt"
)

// Kind classifies a signing failure.
type Kind int

const (
	KindOther   Kind = iota
	KindPubkey       // signer does not control the requested key
	KindUser         // requesting identity may not sign for the key
	KindTimeout      // no signature before the request timeout
	KindMailBox      // wallet unreachable
	KindWorker       // internal failure of the serving worker
)

func (k Kind) String() string {
	switch k {
	case KindPubkey:
		return "pubkey"
	case KindUser:
		return "user"
	case KindTimeout:
		return "timeout"
	case KindMailBox:
		return "mailbox"
	case KindWorker:
		return "worker"
	default:
		return "other"
	}
}

// Error is the error type returned by the signer service.
type Error struct {
	Kind   Kind
	Pubkey string
	Cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPubkey:
		return fmt.Sprintf("can't sign for pubkey: %s", e.Pubkey)
	case KindUser:
		return "can't sign for this user"
	case KindTimeout:
		return "timeout"
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches kind sentinels such as ErrTimeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Cause != nil || t.Pubkey != "" {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPubkey  = &Error{Kind: KindPubkey}
	ErrUser    = &Error{Kind: KindUser}
	ErrTimeout = &Error{Kind: KindTimeout}
	ErrMailBox = &Error{Kind: KindMailBox}
	ErrWorker  = &Error{Kind: KindWorker}
	ErrOther   = &Error{Kind: KindOther}
)

// PubkeyError reports a key the signer does not hold.
func PubkeyError(pubkey fmt.Stringer) *Error {
	return &Error{Kind: KindPubkey, Pubkey: pubkey.String()}
}

// UserError reports an identity that may not sign for the key.
func UserError() *Error { return &Error{Kind: KindUser} }

// TimeoutError reports an expired request.
func TimeoutError() *Error { return &Error{Kind: KindTimeout} }

// MailBoxError wraps a failure to reach the wallet.
func MailBoxError(err error) *Error { return &Error{Kind: KindMailBox, Cause: err} }

// OtherError wraps an unclassified failure.
func OtherError(err error) *Error { return &Error{Kind: KindOther, Cause: err} }

// WorkerError wraps an internal failure; typed signer errors pass unchanged.
func WorkerError(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: KindWorker, Cause: err}
}
