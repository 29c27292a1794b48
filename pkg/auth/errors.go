package auth

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an auth failure.
type Kind int

const (
	KindOther          Kind = iota // unclassified upstream failure
	KindNotAllowed                 // policy denies token issuance for the identity
	KindUserNotFound               // no credentials known for the identity
	KindWrongRecipient             // issuer returned a token for a different identity
	KindMailBox                    // token issuer unreachable
	KindWorker                     // internal failure of the serving worker
	KindSupabase                   // structured failure reported by the provider
)

func (k Kind) String() string {
	switch k {
	case KindNotAllowed:
		return "not_allowed"
	case KindUserNotFound:
		return "user_not_found"
	case KindWrongRecipient:
		return "wrong_recipient"
	case KindMailBox:
		return "mailbox"
	case KindWorker:
		return "worker"
	case KindSupabase:
		return "supabase"
	default:
		return "other"
	}
}

// Error is the error type returned by the auth service.
type Error struct {
	Kind Kind
	// Code and Description carry the provider's {error, error_description}
	// pair verbatim for KindSupabase.
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotAllowed:
		return "not allowed"
	case KindUserNotFound:
		return "user not found"
	case KindWrongRecipient:
		return "wrong recipient"
	case KindSupabase:
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches kind sentinels such as ErrNotAllowed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Cause != nil || t.Code != "" || t.Description != "" {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotAllowed     = &Error{Kind: KindNotAllowed}
	ErrUserNotFound   = &Error{Kind: KindUserNotFound}
	ErrWrongRecipient = &Error{Kind: KindWrongRecipient}
	ErrSupabase       = &Error{Kind: KindSupabase}
	ErrMailBox        = &Error{Kind: KindMailBox}
	ErrWorker         = &Error{Kind: KindWorker}
	ErrOther          = &Error{Kind: KindOther}
)

// NotAllowedError returns a KindNotAllowed error.
func NotAllowedError() *Error { return &Error{Kind: KindNotAllowed} }

// UserNotFoundError returns a KindUserNotFound error.
func UserNotFoundError() *Error { return &Error{Kind: KindUserNotFound} }

// WrongRecipientError returns a KindWrongRecipient error.
func WrongRecipientError() *Error { return &Error{Kind: KindWrongRecipient} }

// SupabaseError returns a structured provider failure.
func SupabaseError(code, description string) *Error {
	return &Error{Kind: KindSupabase, Code: code, Description: description}
}

// MailBoxError wraps a failure to reach the token issuer.
func MailBoxError(err error) *Error { return &Error{Kind: KindMailBox, Cause: err} }

// OtherError wraps an unclassified failure.
func OtherError(err error) *Error { return &Error{Kind: KindOther, Cause: err} }

// WorkerError wraps an internal failure of the serving worker. Its signature
// fits service.WithWorkerError.
func WorkerError(err error) error {
	if err == nil {
		err = context.Canceled
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindWorker, Cause: err}
}
