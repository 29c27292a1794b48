package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/flowctx/internal/scheduler"
)

func newWarmCmd(a *app) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Issue access tokens for every stored user to fill the token cache",
		Long: "Without --schedule, runs one pass and exits. With --schedule (cron expression\n" +
			"or descriptor such as \"@every 30m\"), keeps running until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tokens, st, closeAll, err := a.authService(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			spec := schedule
			if spec == "" {
				spec = "@hourly"
			}
			w, err := scheduler.NewWarmer(st, tokens, spec, a.logger)
			if err != nil {
				return err
			}

			if schedule == "" {
				warmed, err := w.Tick(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "warmed %d token(s)\n", warmed)
				return nil
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return w.Stop()
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule for repeated passes")
	return cmd
}
