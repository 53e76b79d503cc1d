// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/storage"
)

var (
	dbType         string
	migrationsRoot string
	steps          int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply GMB sync database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbType, "db", "postgres", "database type: postgres, clickhouse")
	rootCmd.PersistentFlags().StringVar(&migrationsRoot, "path", "migrations", "directory holding postgres/ and clickhouse/")

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(runDown)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withConfig(runUp)
			},
		},
		downCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version (postgres only)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withConfig(runVersion)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("Migration failed: %v", err)
		os.Exit(1)
	}
}

func withConfig(fn func(cfg *config.Config) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return fn(cfg)
}

func postgresOnly(action string) error {
	if dbType != "postgres" {
		return fmt.Errorf("%s is only supported for postgres, got --db=%s", action, dbType)
	}
	return nil
}

func runUp(cfg *config.Config) error {
	switch dbType {
	case "postgres":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(cfg.Database.Postgres.URL(), migrationsRoot+"/postgres"); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")
		return nil

	case "clickhouse":
		return runClickHouseUp(cfg)

	default:
		return fmt.Errorf("unknown database type: %s", dbType)
	}
}

func runDown(cfg *config.Config) error {
	if err := postgresOnly("down"); err != nil {
		return err
	}
	log.Printf("Rolling back %d Postgres migration(s)...", steps)
	if err := storage.RollbackMigrations(cfg.Database.Postgres.URL(), migrationsRoot+"/postgres", steps); err != nil {
		return err
	}
	log.Println("Postgres migration rolled back successfully")
	return nil
}

func runVersion(cfg *config.Config) error {
	if err := postgresOnly("version"); err != nil {
		return err
	}
	version, dirty, err := storage.MigrationVersion(cfg.Database.Postgres.URL(), migrationsRoot+"/postgres")
	if err != nil {
		return err
	}
	log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)
	return nil
}

func runClickHouseUp(cfg *config.Config) error {
	path := migrationsRoot + "/clickhouse"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", path)
	}

	log.Println("Connecting to ClickHouse...")
	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	applied, err := storage.RunClickHouseMigrations(ctx, db, path)
	if err != nil {
		return err
	}

	log.Printf("ClickHouse migrations completed successfully (%d files)", len(applied))
	return nil
}
