package main

import (
	"errors"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/spf13/cobra"
)

// NewTokenCmd groups token subcommands.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with session tokens",
	}
	cmd.AddCommand(newTokenInspectCmd())
	return cmd
}

type inspection struct {
	Valid     bool       `json:"valid"`
	Error     string     `json:"error,omitempty"`
	Subject   string     `json:"sub,omitempty"`
	Role      string     `json:"role,omitempty"`
	Kind      jwtx.Kind  `json:"type,omitempty"`
	Name      string     `json:"name,omitempty"`
	Scope     string     `json:"scope,omitempty"`
	ID        string     `json:"jti,omitempty"`
	Issuer    string     `json:"iss,omitempty"`
	IssuedAt  *time.Time `json:"iat,omitempty"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
}

func newTokenInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token with the configured secret and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			codec, err := cfg.NewCodec()
			if err != nil {
				return err
			}

			claims, err := codec.Decode(args[0])
			if err != nil {
				_ = printJSON(cmd, inspection{Error: err.Error()})
				return errors.New("token rejected")
			}

			out := inspection{
				Valid:   true,
				Subject: claims.Subject,
				Role:    claims.Role,
				Kind:    claims.Kind,
				Name:    claims.Name,
				Scope:   claims.Scope,
				ID:      claims.ID,
				Issuer:  claims.Issuer,
			}
			if claims.IssuedAt != nil {
				out.IssuedAt = &claims.IssuedAt.Time
			}
			if claims.ExpiresAt != nil {
				out.ExpiresAt = &claims.ExpiresAt.Time
			}
			return printJSON(cmd, out)
		},
	}
}
