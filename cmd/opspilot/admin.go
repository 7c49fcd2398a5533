package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/OpsPilot/internal/adapter/postgres"
	"github.com/Strob0t/OpsPilot/internal/config"
)

// runMigrate dispatches the migrate subcommands (up, down, version) for the
// Postgres snapshot table.
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	fs := flag.NewFlagSet("migrate "+args[0], flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (overrides config)")
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	url, err := migrationDSN(*configPath, *dsn)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, url); err != nil {
			return err
		}
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := postgres.RollbackMigrations(ctx, url, *steps); err != nil {
			return err
		}
	case "version":
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}

	v, err := postgres.MigrationVersion(ctx, url)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "schema version: %d\n", v)
	return nil
}

// migrationDSN resolves the DSN from the flag, falling back to the loaded config.
func migrationDSN(configPath, dsn string) (string, error) {
	if dsn != "" {
		return dsn, nil
	}
	var flags config.CLIFlags
	if configPath != "" {
		flags.ConfigPath = &configPath
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Postgres.DSN, nil
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: opspilot migrate <command> [options]

Commands:
  up        Apply all pending migrations
  down      Roll back migrations (--steps N, default 1)
  version   Print the current schema version
  help      Show this help message

Options:
  --config PATH   YAML config file
  --dsn DSN       PostgreSQL DSN (overrides config and DATABASE_URL)

Examples:
  opspilot migrate up
  opspilot migrate down --steps 1
  opspilot migrate version --dsn postgres://localhost/opspilot
`)
}
