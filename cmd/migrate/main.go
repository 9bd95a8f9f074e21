package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/hardian-n/otomatisin/internal/config"
	"github.com/hardian-n/otomatisin/internal/logger"
)

var (
	configPath     string
	migrationsPath string
)

func newMigrator() (*migrate.Migrate, error) {
	if err := config.LoadConfig(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if config.App.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL environment variable (or config) is required")
	}

	m, err := migrate.New("file://"+migrationsPath, config.App.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

func logVersion(m *migrate.Migrate, action string) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Infof("%s: no migrations applied", action)
		return
	}
	if err != nil {
		logger.Warnf("%s: failed to read version: %v", action, err)
		return
	}
	logger.Infof("%s: version=%d dirty=%t", action, v, dirty)
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate up: %w", err)
			}
			logVersion(m, "Migration complete")
			return nil
		},
	}
}

func downCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if steps <= 0 {
				steps = 1
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}
			logVersion(m, "Rollback complete")
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			logVersion(m, "Current schema")
			return nil
		},
	}
}

func forceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}

			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Force(version); err != nil {
				return fmt.Errorf("migrate force: %w", err)
			}
			logVersion(m, "Forced")
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Autoreply database migrations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.LogConfig{Level: "info", Format: "console"})
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("OTOMATISIN_CONFIG_PATH"), "path to the config file")
	root.PersistentFlags().StringVar(&migrationsPath, "path", "migrations", "path to the migrations directory")

	root.AddCommand(upCmd(), downCmd(), versionCmd(), forceCmd())

	if err := root.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
