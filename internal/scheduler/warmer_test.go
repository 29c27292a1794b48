package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowctx/internal/logging"
	"github.com/rendis/flowctx/pkg/auth"
)

type staticUsers struct {
	users []uuid.UUID
	err   error
}

func (s staticUsers) Users(context.Context) ([]uuid.UUID, error) { return s.users, s.err }

type issuer struct {
	mu     sync.Mutex
	calls  map[uuid.UUID]int
	failOn uuid.UUID
	total  int64
}

func (i *issuer) serve(_ context.Context, req auth.Request) (auth.Response, error) {
	atomic.AddInt64(&i.total, 1)
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.calls == nil {
		i.calls = make(map[uuid.UUID]int)
	}
	i.calls[req.UserID]++
	if req.UserID == i.failOn {
		return auth.Response{}, auth.UserNotFoundError()
	}
	return auth.Response{AccessToken: "t"}, nil
}

func TestWarmer_TickIssuesForEveryUser(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	iss := &issuer{failOn: b}
	w, err := NewWarmer(staticUsers{users: []uuid.UUID{a, b, c}},
		auth.New(iss.serve, 2, auth.DefaultRetryPolicy()), "@every 1h", logging.NewNop())
	require.NoError(t, err)

	warmed, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, warmed)
	assert.Equal(t, map[uuid.UUID]int{a: 1, b: 1, c: 1}, iss.calls)
}

func TestWarmer_TickListFailure(t *testing.T) {
	w, err := NewWarmer(staticUsers{err: errors.New("db locked")}, auth.UnimplementedService(), "@hourly", logging.NewNop())
	require.NoError(t, err)

	_, err = w.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestWarmer_InvalidSchedule(t *testing.T) {
	_, err := NewWarmer(staticUsers{}, auth.UnimplementedService(), "every now and then", nil)
	assert.Error(t, err)
}

func TestWarmer_NextRun(t *testing.T) {
	w, err := NewWarmer(staticUsers{}, auth.UnimplementedService(), "0 * * * *", nil)
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), w.NextRun(from))
}

func TestWarmer_StartRunsImmediatelyAndStops(t *testing.T) {
	iss := &issuer{}
	w, err := NewWarmer(staticUsers{users: []uuid.UUID{uuid.New()}},
		auth.New(iss.serve, 1, auth.DefaultRetryPolicy()), "@every 1h", logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start must fail")

	require.Eventually(t, func() bool { return atomic.LoadInt64(&iss.total) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "stop is idempotent")
}

func TestWarmer_RunsOnSchedule(t *testing.T) {
	iss := &issuer{}
	w, err := NewWarmer(staticUsers{users: []uuid.UUID{uuid.New()}},
		auth.New(iss.serve, 1, auth.DefaultRetryPolicy()), "@every 1s", logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool { return atomic.LoadInt64(&iss.total) >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestWarmer_DedupSkipsInflightUser(t *testing.T) {
	user := uuid.New()
	w, err := NewWarmer(staticUsers{users: []uuid.UUID{user}}, auth.UnimplementedService(), "@hourly", nil)
	require.NoError(t, err)

	require.True(t, w.tryAcquire(user))
	warmed, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, warmed)
	w.release(user)
}
