// Package auth issues bearer tokens for flow users.
package auth

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/flowctx/pkg/service"
)

// Request asks for an access token on behalf of a user. StartedBy is the user
// whose run needs the token; the nil UUID when unknown, as for background refreshes.
type Request struct {
	UserID    uuid.UUID
	StartedBy uuid.UUID
}

// Response carries the issued access token.
type Response struct {
	AccessToken string
}

// Service is the handle nodes obtain tokens through.
type Service = service.Handle[Request, Response]

// Handler serves token requests.
type Handler = service.HandlerFunc[Request, Response]

// refreshTokenMarker identifies provider failures caused by a refresh token
// rotated by a concurrent refresh. Re-reading the stored token fixes them.
const refreshTokenMarker = "Refresh Token"

// RetryPolicy retries provider failures about the refresh token. Remaining is
// the number of retries left.
type RetryPolicy struct {
	Remaining uint
}

// DefaultRetryPolicy allows one retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Remaining: 1}
}

// Retry implements service.Policy.
func (p RetryPolicy) Retry(_ Request, _ Response, err error) (service.Policy[Request, Response], bool) {
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindSupabase {
		return nil, false
	}
	if !strings.Contains(ae.Description, refreshTokenMarker) || p.Remaining == 0 {
		return nil, false
	}
	return RetryPolicy{Remaining: p.Remaining - 1}, true
}

// New builds an auth service from h, bounded to size concurrent provider calls
// and retried according to policy. Retries are logged through the logger given
// with service.WithLogger.
func New(h Handler, size int, policy RetryPolicy, opts ...service.Option) Service {
	opts = append([]service.Option{
		service.WithName("auth"),
		service.WithWorkerError(WorkerError),
	}, opts...)
	return service.WithRetry(service.FromHandler(h, size, opts...), service.Policy[Request, Response](policy), opts...)
}

// UnimplementedService fails every call with an "unimplemented" error.
func UnimplementedService() Service {
	return service.Unimplemented[Request, Response](func() error {
		return OtherError(errors.New("unimplemented"))
	})
}

// NotAllowedService denies every call. Used for nodes lacking the user token permission.
func NotAllowedService() Service {
	return service.Unimplemented[Request, Response](func() error {
		return NotAllowedError()
	})
}
