package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/flowctx/pkg/flow"
	"github.com/rendis/flowctx/pkg/signer"
)

func newJWTCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "jwt <user-id>",
		Short: "Issue an access token for a user and print it as an Authorization header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			tokens, _, closeAll, err := a.authService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			user := flow.NewUser(userID)
			fc := flow.FromConfig(a.cfg, user, user, signer.UnimplementedService(), tokens, nil, flow.WithLogger(a.logger))
			header, err := fc.JWTHeader(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), header)
			return nil
		},
	}
}
