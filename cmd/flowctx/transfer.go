package main

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/flowctx/pkg/auth"
	"github.com/rendis/flowctx/pkg/execute"
	"github.com/rendis/flowctx/pkg/flow"
	"github.com/rendis/flowctx/pkg/signer"
)

type transferOptions struct {
	keypair  string
	to       string
	lamports uint64
}

func newTransferCmd(a *app) *cobra.Command {
	opts := transferOptions{}

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send lamports from a local keypair through the execution service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.keypair, "keypair", "", "Path to a solana-keygen JSON keypair paying for and signing the transfer")
	cmd.Flags().StringVar(&opts.to, "to", "", "Recipient pubkey")
	cmd.Flags().Uint64Var(&opts.lamports, "lamports", 0, "Amount to send")
	_ = cmd.MarkFlagRequired("keypair")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runTransfer(cmd *cobra.Command, a *app, opts transferOptions) error {
	if opts.lamports == 0 {
		return errors.New("--lamports must be positive")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(opts.keypair)
	if err != nil {
		return fmt.Errorf("read keypair: %w", err)
	}
	to, err := solana.PublicKeyFromBase58(opts.to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", opts.to, err)
	}
	timeout, err := a.cfg.SignatureTimeout()
	if err != nil {
		return err
	}

	sig := signer.New(signer.KeypairHandler(key), 1, a.serviceOptions()...)
	fc := flow.FromConfig(a.cfg, flow.User{}, flow.User{}, sig, auth.NotAllowedService(), nil, flow.WithLogger(a.logger))
	strategy := &execute.SimpleStrategy{
		Chain:            fc.Chain,
		Signer:           sig,
		SignatureTimeout: timeout,
		Logger:           a.logger,
	}
	fc = fc.WithCommand(flow.CommandContext{
		Svc:       execute.NewService(strategy.Serve, 1, a.serviceOptions()...),
		FlowRunID: uuid.New(),
		NodeID:    uuid.New(),
	})

	ins := execute.Instructions{
		FeePayer:     key.PublicKey(),
		Instructions: []solana.Instruction{system.NewTransferInstruction(opts.lamports, key.PublicKey(), to).Build()},
	}
	resp, err := fc.Execute(cmd.Context(), ins, map[string]any{"lamports": opts.lamports})
	if err != nil {
		return err
	}
	if resp.Signature != nil {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Signature.String())
	}
	return nil
}
