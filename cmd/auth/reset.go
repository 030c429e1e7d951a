package main

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/rollcall/internal/auth/app"
	"github.com/spf13/cobra"
)

// NewResetCmd groups the password reset subcommands.
func NewResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Issue or redeem password reset tokens",
	}
	cmd.AddCommand(newResetRequestCmd())
	cmd.AddCommand(newResetConsumeCmd())
	return cmd
}

func newResetRequestCmd() *cobra.Command {
	var identifier string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Print a reset token for a principal, for out-of-band delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				tok, err := a.Resets.Request(ctx, identifier)
				if err != nil {
					return serviceError(err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&identifier, "identifier", "", "principal email")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}

func newResetConsumeCmd() *cobra.Command {
	var token, secret string

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Redeem a reset token and set a new secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := readSecret(cmd, secret)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if err := a.Resets.Consume(ctx, token, secret); err != nil {
					return serviceError(err)
				}
				cmd.Println("Secret updated")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "reset token")
	cmd.Flags().StringVar(&secret, "secret", "", `new secret, "-" to read stdin`)
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
