package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/flowctx/pkg/config"
)

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "flowctx",
		Short:         "Inspect and exercise flow execution contexts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.settingsPath, "config", "c", config.SettingsPath(), "Settings file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "Print service metrics to stderr on exit")

	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newBalanceCmd(a))
	cmd.AddCommand(newJWTCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	cmd.AddCommand(newTransferCmd(a))
	cmd.AddCommand(newWarmCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
