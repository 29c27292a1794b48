// Package supabase serves auth requests by exchanging stored refresh tokens at
// a Supabase (GoTrue) token endpoint.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowctx/pkg/auth"
)

const (
	maxResponseBody    = 1 << 20
	defaultHTTPTimeout = 30 * time.Second
	// expirySkew is subtracted from expires_in before caching an access token.
	expirySkew = time.Minute
)

// TokenStore persists per-user refresh tokens.
type TokenStore interface {
	RefreshToken(ctx context.Context, userID uuid.UUID) (token string, ok bool, err error)
	SaveRefreshToken(ctx context.Context, userID uuid.UUID, token string) error
}

// TokenCache holds access tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, userID uuid.UUID) (token string, ok bool, err error)
	Set(ctx context.Context, userID uuid.UUID, token string, ttl time.Duration) error
}

// Handler exchanges refresh tokens for access tokens.
type Handler struct {
	endpoint string
	anonKey  string
	store    TokenStore
	cache    TokenCache
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.http = c }
}

// WithCache enables access-token caching.
func WithCache(c TokenCache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New returns a handler for the Supabase project at endpoint.
func New(endpoint, anonKey string, store TokenStore, opts ...Option) *Handler {
	h := &Handler{
		endpoint: strings.TrimRight(endpoint, "/"),
		anonKey:  anonKey,
		store:    store,
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Serve implements auth.Handler.
func (h *Handler) Serve(ctx context.Context, req auth.Request) (auth.Response, error) {
	logger := h.logger.With(slog.String("user_id", req.UserID.String()))

	if h.cache != nil {
		token, ok, err := h.cache.Get(ctx, req.UserID)
		if err != nil {
			logger.Warn("access token cache read failed", slog.String("error", err.Error()))
		} else if ok {
			return auth.Response{AccessToken: token}, nil
		}
	}

	refresh, ok, err := h.store.RefreshToken(ctx, req.UserID)
	if err != nil {
		return auth.Response{}, auth.OtherError(fmt.Errorf("load refresh token: %w", err))
	}
	if !ok {
		return auth.Response{}, auth.UserNotFoundError()
	}

	tok, err := h.exchange(ctx, refresh)
	if err != nil {
		return auth.Response{}, err
	}
	if tok.User.ID != req.UserID.String() {
		logger.Error("token issued for another user", slog.String("recipient", tok.User.ID))
		return auth.Response{}, auth.WrongRecipientError()
	}

	if tok.RefreshToken != "" && tok.RefreshToken != refresh {
		if err := h.store.SaveRefreshToken(ctx, req.UserID, tok.RefreshToken); err != nil {
			return auth.Response{}, auth.OtherError(fmt.Errorf("save refresh token: %w", err))
		}
	}

	if h.cache != nil && tok.ExpiresIn > 0 {
		ttl := time.Duration(tok.ExpiresIn)*time.Second - expirySkew
		if ttl > 0 {
			if err := h.cache.Set(ctx, req.UserID, tok.AccessToken, ttl); err != nil {
				logger.Warn("access token cache write failed", slog.String("error", err.Error()))
			}
		}
	}

	return auth.Response{AccessToken: tok.AccessToken}, nil
}

func (h *Handler) exchange(ctx context.Context, refresh string) (*tokenResponse, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return nil, auth.OtherError(err)
	}

	url := h.endpoint + "/auth/v1/token?grant_type=refresh_token"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, auth.OtherError(fmt.Errorf("build token request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", h.anonKey)

	resp, err := h.http.Do(httpReq)
	if err != nil {
		return nil, auth.MailBoxError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, auth.MailBoxError(fmt.Errorf("read token response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerError(ctx, resp.StatusCode, data)
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, auth.OtherError(fmt.Errorf("decode token response: %w", err))
	}
	if tok.AccessToken == "" {
		return nil, auth.OtherError(errors.New("token response has no access_token"))
	}
	return &tok, nil
}
