package main

import (
	"fmt"

	"github.com/kursadbilgin/deaddrop/internal/infra/postgresql"
	"github.com/kursadbilgin/deaddrop/internal/infra/postgresql/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if err := cfg.RequireDatabase(); err != nil {
				return err
			}

			db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("postgres initialization failed: %w", err)
			}
			defer postgresql.Close(db) //nolint:errcheck

			if rollback {
				if err := migrations.RollbackLast(db); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				logger.Info("rolled back last migration")
				return nil
			}

			if err := migrations.Migrate(db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}
			logger.Info("database migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recent migration")
	return cmd
}
