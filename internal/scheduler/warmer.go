// Package scheduler keeps access tokens warm by re-issuing them for every
// user with a stored refresh token on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowctx/pkg/auth"
)

// UserLister enumerates users holding a refresh token.
// Satisfied by store.TokenStore.
type UserLister interface {
	Users(ctx context.Context) ([]uuid.UUID, error)
}

// Warmer issues a token for each listed user whenever its schedule fires, so
// the access-token cache is populated before nodes ask.
type Warmer struct {
	users    UserLister
	tokens   auth.Service
	schedule cron.Schedule
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[uuid.UUID]struct{} // users currently being warmed (dedup)
}

// NewWarmer parses spec as a standard cron expression or descriptor
// ("@every 30m", "@hourly").
func NewWarmer(users UserLister, tokens auth.Service, spec string, logger *slog.Logger) (*Warmer, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		users:    users,
		tokens:   tokens,
		schedule: schedule,
		logger:   logger,
		inflight: make(map[uuid.UUID]struct{}),
	}, nil
}

// Start launches the background loop. The first pass runs immediately.
func (w *Warmer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return fmt.Errorf("warmer already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.loop(loopCtx, done)
	w.logger.Info("token warmer started")
	return nil
}

func (w *Warmer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.Tick(ctx)
	for {
		wait := time.Until(w.NextRun(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.Tick(ctx)
		}
	}
}

// Tick issues a token for every listed user once and reports how many
// succeeded. Failures are logged and do not stop the pass.
func (w *Warmer) Tick(ctx context.Context) (int, error) {
	users, err := w.users.Users(ctx)
	if err != nil {
		w.logger.Error("failed to list users", slog.String("error", err.Error()))
		return 0, fmt.Errorf("list users: %w", err)
	}

	warmed := 0
	for _, user := range users {
		if ctx.Err() != nil {
			return warmed, ctx.Err()
		}
		if !w.tryAcquire(user) {
			continue // already warming (dedup)
		}
		_, err := w.tokens.Call(ctx, auth.Request{UserID: user})
		w.release(user)
		if err != nil {
			w.logger.Warn("token warm failed",
				slog.String("user_id", user.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		warmed++
	}
	w.logger.Debug("token warm pass finished", slog.Int("users", len(users)), slog.Int("warmed", warmed))
	return warmed, nil
}

func (w *Warmer) tryAcquire(user uuid.UUID) bool {
	w.inflightMu.Lock()
	defer w.inflightMu.Unlock()
	if _, ok := w.inflight[user]; ok {
		return false
	}
	w.inflight[user] = struct{}{}
	return true
}

func (w *Warmer) release(user uuid.UUID) {
	w.inflightMu.Lock()
	defer w.inflightMu.Unlock()
	delete(w.inflight, user)
}

// NextRun returns the first activation after from.
func (w *Warmer) NextRun(from time.Time) time.Time {
	return w.schedule.Next(from)
}

// Stop cancels the loop and waits for an in-progress pass to end.
func (w *Warmer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}

	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil

	w.logger.Info("token warmer stopped")
	return nil
}
