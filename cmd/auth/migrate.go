package main

import (
	"github.com/aussiebroadwan/rollcall/internal/auth/app"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Apply all pending migrations to the sqlite database named by AUTH_DATABASE_FILE.`,
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cmd.Println("Running migrations...")
	db, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return err
	}
	cmd.Printf("Migrations completed, schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
