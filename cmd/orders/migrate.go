package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the orders schema",
		Long: `Apply the orders table, its status check and its indexes.

The schema statements are idempotent, so running migrate against an
up-to-date database is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig()

			db, err := initDatabase(cfg)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			if err := repository.Migrate(context.Background(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}
