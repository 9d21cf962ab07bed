package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ms-contest/internal/config"
	"ms-contest/internal/database"
	"ms-contest/internal/database/migrations"
	"ms-contest/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	command := flag.String("command", "up", "one of: up, down, to, force, version")
	target := flag.Int("version", -1, "target version for 'to' and 'force'")
	seed := flag.Bool("seed", false, "also apply the demo entry seed with 'up'")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewLogger("")
	defer log.Close()

	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatal("MIGRATE", fmt.Sprintf("migrations run on postgres only, DB_DRIVER is %q", cfg.Database.Driver))
	}

	sqlDB, err := database.ConnectPostgres(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	runner := migrations.NewRunner(sqlDB, migrations.MigrateOptions{SeedData: *seed, Logger: log})
	defer runner.Close()

	if err := run(runner, *command, *target, *seed); err != nil {
		log.Error("MIGRATE", err.Error())
		runner.Close()
		os.Exit(1)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		log.Error("MIGRATE", err.Error())
		return
	}
	log.Info("MIGRATE", fmt.Sprintf("✅ Schema at version %d (dirty=%t)", version, dirty))
}

func run(runner *migrations.Runner, command string, target int, seed bool) error {
	switch command {
	case "up":
		if seed {
			return runner.MigrateUp()
		}
		return runner.RunMigrations()
	case "down":
		return runner.MigrateDown()
	case "to":
		if target < 0 {
			return fmt.Errorf("-version is required for 'to'")
		}
		return runner.MigrateTo(uint(target))
	case "force":
		if target < 0 {
			return fmt.Errorf("-version is required for 'force'")
		}
		return runner.Force(target)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
