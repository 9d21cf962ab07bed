package database

import (
	"context"
	"fmt"
	"io"

	"ms-contest/internal/config"
	"ms-contest/internal/database/migrations"
	"ms-contest/internal/ledger"
	"ms-contest/internal/ledger/badgerstore"
	"ms-contest/internal/ledger/db"
	"ms-contest/internal/logger"

	"github.com/uptrace/bun"
)

// LedgerStore is a ready ledger backend plus the handle that releases it.
type LedgerStore struct {
	ledger.DBLayer
	io.Closer
	Driver string
}

// OpenLedgerStore opens the backend named by cfg.Driver and brings its schema up to date
// when cfg.AutoMigrate is set.
func OpenLedgerStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*LedgerStore, error) {
	switch cfg.Driver {
	case config.DriverBadger:
		store, err := badgerstore.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		return &LedgerStore{DBLayer: store, Closer: store, Driver: cfg.Driver}, nil

	case config.DriverPostgres, config.DriverSQLite:
		bunDB, err := Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrateRelational(ctx, cfg, bunDB, log); err != nil {
				bunDB.Close()
				return nil, err
			}
		}
		store := db.New(bunDB)
		return &LedgerStore{DBLayer: store, Closer: store, Driver: cfg.Driver}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// migrateRelational runs golang-migrate on Postgres over a dedicated connection, since
// the runner closes its handle. SQLite gets the schema straight from the bun models.
func migrateRelational(ctx context.Context, cfg config.DatabaseConfig, bunDB *bun.DB, log *logger.Logger) error {
	if cfg.Driver == config.DriverSQLite {
		if err := db.CreateSchema(ctx, bunDB); err != nil {
			return fmt.Errorf("create sqlite schema: %w", err)
		}
		log.LogDatabase("MIGRATE", "sqlite", "schema ensured")
		return nil
	}

	sqlDB, err := ConnectPostgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(sqlDB, migrations.MigrateOptions{Logger: log})
	defer runner.Close()

	if err := runner.RunMigrations(); err != nil {
		return err
	}
	return nil
}
