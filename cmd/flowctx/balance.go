package main

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/rendis/flowctx/pkg/chain"
)

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <pubkey>",
		Short: "Print an account's SOL balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := solana.PublicKeyFromBase58(args[0])
			if err != nil {
				return fmt.Errorf("invalid pubkey %q: %w", args[0], err)
			}
			lamports, err := a.chain().Balance(cmd.Context(), pk)
			if err != nil {
				return fmt.Errorf("get balance: %s", chain.Verbose(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d lamports (%s SOL)\n", lamports, formatSOL(lamports))
			return nil
		},
	}
}

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/solana.LAMPORTS_PER_SOL, lamports%solana.LAMPORTS_PER_SOL)
}
