package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

// budgetPolicy retries errTransient while budget remains.
type budgetPolicy struct{ left int }

func (p budgetPolicy) Retry(_ string, _ string, err error) (Policy[string, string], bool) {
	if errors.Is(err, errTransient) && p.left > 0 {
		return budgetPolicy{left: p.left - 1}, true
	}
	return nil, false
}

func TestWithRetry_RetriesUntilBudgetSpent(t *testing.T) {
	var calls int64
	inner := FromHandler(func(ctx context.Context, req string) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "", errTransient
	}, 1)

	h := WithRetry(inner, Policy[string, string](budgetPolicy{left: 3}))
	_, err := h.Call(context.Background(), "req")
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, int64(4), atomic.LoadInt64(&calls))

	// Every call starts from the configured state.
	atomic.StoreInt64(&calls, 0)
	_, _ = h.Call(context.Background(), "req")
	assert.Equal(t, int64(4), atomic.LoadInt64(&calls))
}

func TestWithRetry_SameRequestEachAttempt(t *testing.T) {
	var seen []string
	inner := FromHandler(func(ctx context.Context, req string) (string, error) {
		seen = append(seen, req)
		if len(seen) < 2 {
			return "", errTransient
		}
		return "ok:" + req, nil
	}, 1)

	resp, err := WithRetry(inner, Policy[string, string](budgetPolicy{left: 5})).Call(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "ok:abc", resp)
	assert.Equal(t, []string{"abc", "abc"}, seen)
}

func TestWithRetry_OtherErrorsAreTerminal(t *testing.T) {
	var calls int64
	inner := FromHandler(func(ctx context.Context, req string) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "", errTest
	}, 1)

	_, err := WithRetry(inner, Policy[string, string](budgetPolicy{left: 5})).Call(context.Background(), "x")
	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestWithRetry_NilPolicyReturnsInner(t *testing.T) {
	inner := FromHandler(func(ctx context.Context, req string) (string, error) { return req, nil }, 1)
	h := WithRetry(inner, nil)
	resp, err := h.Call(context.Background(), "same")
	require.NoError(t, err)
	assert.Equal(t, "same", resp)
}

func TestWithRetry_ReleaseReturnsInnerSlot(t *testing.T) {
	inner := FromHandler(func(ctx context.Context, req string) (string, error) { return req, nil }, 1)
	h := WithRetry(inner, Policy[string, string](budgetPolicy{left: 1}))

	r, err := h.Ready(context.Background())
	require.NoError(t, err)
	r.Release()

	resp, err := inner.Call(context.Background(), "free")
	require.NoError(t, err)
	assert.Equal(t, "free", resp)
}
