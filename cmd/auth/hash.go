package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHashCmd creates the hash subcommand.
func NewHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [secret]",
		Short: "Print a digest of a secret",
		Long: `Hash a secret with the configured algorithm and cost, e.g. to seed a
principal by hand. The secret is read from stdin when not given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hasher, err := cfg.NewHasher()
			if err != nil {
				return err
			}

			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			secret, err := readSecret(cmd, arg)
			if err != nil {
				return err
			}

			digest, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}
}
