package main

import (
	"log/slog"

	"github.com/aussiebroadwan/rollcall/internal/auth/app"
	"github.com/aussiebroadwan/rollcall/internal/auth/service"
	"github.com/spf13/cobra"
)

// NewPruneCmd creates the prune subcommand.
func NewPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete redeemed-token records whose tokens have expired",
		Long: `Run housekeeping once. Schedule it externally (cron, a systemd timer);
nothing in the auth core runs in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := app.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			hk := &service.HousekeepingService{Store: db, Logger: slog.Default()}
			res, err := hk.Prune(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Pruned %d redeemed token records\n", res.RedeemedTokens)
			return nil
		},
	}
}
