package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowctx/internal/tokencache"
)

const checkTimeout = 10 * time.Second

func newCheckCmd(a *app) *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate settings and print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := printConfig(out, a); err != nil {
				return err
			}
			if !online {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			return a.checkOnline(ctx, out)
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "Also reach the RPC node, Redis and the token store")
	return cmd
}

func printConfig(w io.Writer, a *app) error {
	cfg := a.cfg
	if cfg.Endpoints.SupabaseAnonKey != "" {
		cfg.Endpoints.SupabaseAnonKey = "****"
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	fmt.Fprintf(w, "# settings: %s\n", a.settingsPath)
	_, err = w.Write(b)
	return err
}

// checkOnline reports each dependency's reachability and fails if any is down.
func (a *app) checkOnline(ctx context.Context, w io.Writer) error {
	var failed int
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(w, "%-8s FAIL %v\n", name, err)
			return
		}
		fmt.Fprintf(w, "%-8s ok\n", name)
	}

	_, err := a.chain().LatestBlockhash(ctx)
	report("rpc", err)

	if a.cfg.RedisAddr != "" {
		cache := tokencache.New(a.cfg.RedisAddr, "", 0)
		report("redis", cache.Ping(ctx))
		_ = cache.Close()
	}

	st, err := a.openStore(ctx)
	if err == nil {
		_, err = st.Users(ctx)
		_ = st.Close()
	}
	report("store", err)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
