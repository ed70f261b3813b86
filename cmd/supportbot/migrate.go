package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chative-support/server/internal/orders"
	"github.com/chative-support/server/internal/session"
	"github.com/chative-support/server/pkg/database"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Long:  "Migrates the order and session tables, and optionally seeds customers and products from a YAML file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBaseConfig(*envFile)
			if err != nil {
				return err
			}
			return runMigrate(cmd, cfg, seedPath)
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file with customers and products to insert")
	return cmd
}

func runMigrate(cmd *cobra.Command, cfg *BaseConfig, seedPath string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	db, err := cfg.Database.Open()
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := orders.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate orders: %w", err)
	}
	if err := session.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(orders.Models())+1)

	if seedPath == "" {
		return nil
	}
	data, err := orders.LoadSeed(seedPath)
	if err != nil {
		return err
	}
	if err := orders.Seed(ctx, db, data); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintf(out, "Seeded %d customers and %d products from %s\n", len(data.Customers), len(data.Products), seedPath)
	return nil
}
