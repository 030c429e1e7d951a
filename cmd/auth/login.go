package main

import (
	"context"

	"github.com/aussiebroadwan/rollcall/internal/auth/app"
	"github.com/spf13/cobra"
)

// NewLoginCmd creates the login subcommand.
func NewLoginCmd() *cobra.Command {
	var identifier, secret string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in locally and print the issued token pair",
		Long: `Run the password login verb against the local database, e.g. to check
a principal's credentials or mint tokens for testing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := readSecret(cmd, secret)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				pair, err := a.Sessions.Login(ctx, identifier, secret)
				if err != nil {
					return serviceError(err)
				}
				return printJSON(cmd, pair)
			})
		},
	}

	cmd.Flags().StringVar(&identifier, "identifier", "", "login email")
	cmd.Flags().StringVar(&secret, "secret", "", `secret, "-" to read stdin`)
	_ = cmd.MarkFlagRequired("identifier")

	return cmd
}
