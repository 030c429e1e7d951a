package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aussiebroadwan/rollcall/internal/auth/app"
	"github.com/aussiebroadwan/rollcall/internal/auth/service"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the rollcall auth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollcall-auth",
		Short: "Rollcall identity and session core",
		Long: `Operator tooling for the rollcall auth core: schema migrations,
principal management, secret hashing, token inspection and housekeeping.

Configuration is read from the environment (AUTH_*, LOG_*, ENV).`,
		SilenceUsage: true,
		Version:      app.BuildVersion,
	}

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPrincipalCmd())
	cmd.AddCommand(NewHashCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewPruneCmd())
	cmd.AddCommand(NewLoginCmd())
	cmd.AddCommand(NewResetCmd())

	return cmd
}

// loadConfig reads the environment and installs the logger.
func loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	app.NewLogger(cfg)
	return cfg, nil
}

// withApp runs fn against a fully wired application.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(cmd.Context(), a)
}

// readSecret returns the value of a secret flag, or reads one line from
// stdin when the flag was "-" or left empty.
func readSecret(cmd *cobra.Command, value string) (string, error) {
	if value != "" && value != "-" {
		return value, nil
	}
	raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimRight(string(raw), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("no secret given")
	}
	return secret, nil
}

// serviceError renders a service failure the way a caller would see it,
// keeping the detail for operators in the logs.
func serviceError(err error) error {
	if service.Kind(err) == nil {
		return err
	}
	return fmt.Errorf("%s (%w)", service.PublicMessage(err), err)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

