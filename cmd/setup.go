package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/kindlesync/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
//
// With --rollback it reverts the most recent migration instead.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}
	config.ApplyEnv(nil)

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if cmd.Bool("rollback") {
		before, err := shared.AppliedVersions(db)
		if err != nil {
			return fmt.Errorf("failed to read migration versions: %w", err)
		}
		if err := shared.RollbackMigration(db); err != nil {
			return err
		}
		r.logger.Info("rolled back migration", "version", before[len(before)-1])
		return r.writePlain("✓ Rolled back migration %d (%d remaining)\n", before[len(before)-1], len(before)-1)
	}

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	versions, err := shared.AppliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read migration versions: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)

	r.writePlain("✓ Database ready: %s (migrations: %d)\n", config.Database.Path, len(versions))
	r.writePlainln("Next steps:")
	r.writePlain("1. Set library.metadata_db in %s to your Calibre metadata.db\n", configPath)
	r.writePlain("2. Run 'kindlesync session login' and import the copied request with 'kindlesync session import --curl-file <file> --enable'\n")
	return nil
}
