package main

import (
	"errors"
	"fmt"

	"github.com/senyabanana/procurement-service/internal/router/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func newMigrateCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.LoadConfig(*configDir)
				if err != nil {
					return fmt.Errorf("cannot load config: %w", err)
				}
				return runDBMigration(cfg.MigrationURL, cfg.PostgresConn, true)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.LoadConfig(*configDir)
				if err != nil {
					return fmt.Errorf("cannot load config: %w", err)
				}
				return runDBMigration(cfg.MigrationURL, cfg.PostgresConn, false)
			},
		},
	)
	return cmd
}

func runDBMigration(migrationURL string, dbSource string, up bool) error {
	if dbSource == "" {
		return errors.New("POSTGRES_CONN is required to run migrations")
	}
	migration, err := migrate.New(migrationURL, dbSource)
	if err != nil {
		return fmt.Errorf("cannot create a new migrate instance: %w", err)
	}
	defer migration.Close()

	if up {
		err = migration.Up()
	} else {
		err = migration.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrate: %w", err)
	}
	return nil
}
