package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/rendis/flowctx/internal/logging"
	"github.com/rendis/flowctx/internal/secrets"
	"github.com/rendis/flowctx/internal/store"
	"github.com/rendis/flowctx/internal/tokencache"
	"github.com/rendis/flowctx/pkg/auth"
	"github.com/rendis/flowctx/pkg/auth/supabase"
	"github.com/rendis/flowctx/pkg/chain"
	"github.com/rendis/flowctx/pkg/config"
	"github.com/rendis/flowctx/pkg/service"
)

const (
	envTokenKey        = "FLOWCTX_TOKEN_KEY"
	envTokenPassphrase = "FLOWCTX_TOKEN_PASSPHRASE"
	authWorkers        = 4
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	settingsPath string
	logLevel     string
	showMetrics  bool

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *service.Metrics
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.settingsPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.NewWriter(cmd.ErrOrStderr(), level)
	a.registry = prometheus.NewRegistry()
	a.metrics = service.NewMetrics(a.registry)
	return nil
}

func (a *app) finish(cmd *cobra.Command) error {
	if !a.showMetrics || a.registry == nil {
		return nil
	}
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(cmd.ErrOrStderr(), mf); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) serviceOptions() []service.Option {
	return []service.Option{service.WithLogger(a.logger), service.WithMetrics(a.metrics)}
}

func (a *app) chain() *chain.Client {
	return chain.New(a.cfg.SolanaClient.URL, chain.WithCommitment(a.cfg.SolanaClient.Commitment))
}

// keyConfig reads the token sealing key from the environment. A hex master
// key wins over a passphrase.
func keyConfig() (secrets.KeyConfig, error) {
	if v := os.Getenv(envTokenKey); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return secrets.KeyConfig{}, fmt.Errorf("%s: %w", envTokenKey, err)
		}
		return secrets.KeyConfig{MasterKey: key}, nil
	}
	if v := os.Getenv(envTokenPassphrase); v != "" {
		return secrets.KeyConfig{Passphrase: v}, nil
	}
	return secrets.KeyConfig{}, fmt.Errorf("token store needs %s or %s", envTokenKey, envTokenPassphrase)
}

func dbURI(path string) string {
	if strings.Contains(path, ":") && !filepath.IsAbs(path) {
		return path
	}
	return "file:" + path
}

func (a *app) openStore(ctx context.Context) (*store.TokenStore, error) {
	key, err := keyConfig()
	if err != nil {
		return nil, err
	}
	if !strings.Contains(a.cfg.DBPath, ":") {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return store.Open(ctx, dbURI(a.cfg.DBPath), key)
}

// authService assembles token issuance: stored refresh tokens, the optional
// Redis access-token cache and the optional CEL issuance policy in front of
// the Supabase token endpoint.
// The returned store stays open until closeAll runs.
func (a *app) authService(ctx context.Context) (svc auth.Service, st *store.TokenStore, closeAll func(), err error) {
	if a.cfg.Endpoints.Supabase == "" {
		return auth.Service{}, nil, nil, errors.New("endpoints.supabase is not configured")
	}
	gate, err := auth.NewGate(a.cfg.AuthPolicy)
	if err != nil {
		return auth.Service{}, nil, nil, err
	}
	st, err = a.openStore(ctx)
	if err != nil {
		return auth.Service{}, nil, nil, err
	}
	closers := []func() error{st.Close}

	opts := []supabase.Option{supabase.WithLogger(a.logger)}
	if a.cfg.RedisAddr != "" {
		cache := tokencache.New(a.cfg.RedisAddr, "", 0)
		closers = append(closers, cache.Close)
		opts = append(opts, supabase.WithCache(cache))
	}

	h := supabase.New(a.cfg.Endpoints.Supabase, a.cfg.Endpoints.SupabaseAnonKey, st, opts...)
	svc = auth.New(gate.Wrap(h.Serve), authWorkers, auth.DefaultRetryPolicy(), a.serviceOptions()...)
	closeAll = func() {
		for _, c := range closers {
			_ = c()
		}
	}
	return svc, st, closeAll, nil
}
