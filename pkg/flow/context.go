// Package flow binds identity, configuration and the three node capabilities
// (auth tokens, wallet signatures and transaction execution) into the context
// a node runs in.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/rendis/flowctx/internal/logging"
	"github.com/rendis/flowctx/pkg/auth"
	"github.com/rendis/flowctx/pkg/chain"
	"github.com/rendis/flowctx/pkg/config"
	"github.com/rendis/flowctx/pkg/execute"
	"github.com/rendis/flowctx/pkg/extension"
	"github.com/rendis/flowctx/pkg/service"
	"github.com/rendis/flowctx/pkg/signer"
)

// User identifies a platform user. The zero value has the nil UUID.
type User struct {
	ID uuid.UUID
}

// NewUser returns the user with the given id.
func NewUser(id uuid.UUID) User { return User{ID: id} }

// CommandContext is the per-invocation scope of a node.
type CommandContext struct {
	Svc       execute.Service
	FlowRunID uuid.UUID
	NodeID    uuid.UUID
	// Times counts invocations of the node within the run. It is carried
	// verbatim into logs and interflow origins.
	Times uint32
}

// Origin records which node invocation started a child flow.
type Origin struct {
	FlowRunID uuid.UUID `json:"flow_run_id"`
	NodeID    uuid.UUID `json:"node_id"`
	Times     uint32    `json:"times"`
}

// Context is what a node sees while it runs. It is a value type; copies share
// the chain client, extensions and service backends, so handing a copy to
// another goroutine is safe.
type Context struct {
	FlowOwner   User
	StartedBy   User
	Config      config.Config
	HTTP        *http.Client
	Chain       *chain.Client
	Environment map[string]string
	Endpoints   config.Endpoints
	Extensions  *extension.Registry
	// Command is nil outside a node invocation.
	Command *CommandContext
	Signer  signer.Service
	Auth    auth.Service
	Logger  *slog.Logger
}

// Option configures a Context built by FromConfig.
type Option func(*Context)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(ctx *Context) { ctx.HTTP = c }
}

// WithLogger sets the logger nodes log through.
func WithLogger(l *slog.Logger) Option {
	return func(ctx *Context) { ctx.Logger = l }
}

// FromConfig builds a context without a command scope.
func FromConfig(cfg config.Config, owner, startedBy User, sig signer.Service, tokens auth.Service, ext *extension.Registry, opts ...Option) Context {
	if ext == nil {
		ext = extension.Empty()
	}
	c := Context{
		FlowOwner:   owner,
		StartedBy:   startedBy,
		Config:      cfg,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Chain:       chain.New(cfg.SolanaClient.URL, chain.WithCommitment(cfg.SolanaClient.Commitment)),
		Environment: cfg.Environment,
		Endpoints:   cfg.Endpoints,
		Extensions:  ext,
		Signer:      sig,
		Auth:        tokens,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Default returns a context for tests and local runs: default config, nil
// users, unimplemented signer and auth, and a command scope that executes
// through the simple strategy.
func Default() Context {
	c := FromConfig(config.Default(), User{}, User{}, signer.UnimplementedService(), auth.UnimplementedService(), extension.Empty())
	c.Command = &CommandContext{
		Svc: c.simpleExecute(1),
	}
	return c
}

// simpleExecute builds the simple execution strategy over c's chain client and
// signer, bounding signature requests by the configured signer timeout.
func (c Context) simpleExecute(size int) execute.Service {
	s := &execute.SimpleStrategy{
		Chain:            c.Chain,
		Signer:           c.Signer,
		SignatureTimeout: c.signatureTimeout(),
		Logger:           c.logger(),
	}
	return execute.NewService(s.Serve, size, service.WithLogger(c.logger()))
}

func (c Context) signatureTimeout() time.Duration {
	timeout, err := c.Config.SignatureTimeout()
	if err != nil || timeout == 0 {
		return execute.DefaultSignatureTimeout
	}
	return timeout
}

// WithCommand returns a copy of c scoped to cmd.
func (c Context) WithCommand(cmd CommandContext) Context {
	c.Command = &cmd
	return c
}

// Execute submits instructions through the command scope's execution service.
// Without a command scope it fails with execute.ErrNotAvailable.
func (c Context) Execute(ctx context.Context, instructions execute.Instructions, output map[string]any) (execute.Response, error) {
	if c.Command == nil {
		return execute.Response{}, execute.NotAvailableError()
	}
	ctx = c.LogContext(ctx)
	resp, err := c.Command.Svc.Call(ctx, execute.Request{Instructions: instructions, Output: output})
	if errors.Is(err, service.ErrUnimplemented) {
		err = execute.OtherError(err)
	}
	if err != nil {
		c.logger().DebugContext(ctx, "execute failed", slog.Any("error", err))
		return execute.Response{}, err
	}
	return resp, nil
}

// RequestSignature asks the holder of pubkey to sign message within timeout.
func (c Context) RequestSignature(ctx context.Context, pubkey solana.PublicKey, message []byte, timeout time.Duration) (solana.Signature, error) {
	resp, err := c.Signer.Call(c.LogContext(ctx), signer.Request{Pubkey: pubkey, Message: message, Timeout: timeout})
	if err != nil {
		return solana.Signature{}, err
	}
	return resp.Signature, nil
}

// JWTHeader returns an Authorization header value for the flow owner.
func (c Context) JWTHeader(ctx context.Context) (string, error) {
	resp, err := c.Auth.Call(c.LogContext(ctx), auth.Request{UserID: c.FlowOwner.ID, StartedBy: c.StartedBy.ID})
	if err != nil {
		return "", err
	}
	return "Bearer " + resp.AccessToken, nil
}

// NewInterflowOrigin describes the current node invocation as the origin of
// a child flow. It reports false outside a command scope.
func (c Context) NewInterflowOrigin() (Origin, bool) {
	if c.Command == nil {
		return Origin{}, false
	}
	return Origin{
		FlowRunID: c.Command.FlowRunID,
		NodeID:    c.Command.NodeID,
		Times:     c.Command.Times,
	}, true
}

// Extension returns the extension of type T attached to c.
func Extension[T any](c Context) (T, bool) {
	return extension.Get[T](c.Extensions)
}

// LogContext attaches the command scope's correlation values to ctx.
func (c Context) LogContext(ctx context.Context) context.Context {
	if c.Command == nil {
		return ctx
	}
	return logging.WithIDs(ctx, c.Command.FlowRunID, c.Command.NodeID, c.Command.Times)
}

func (c Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
