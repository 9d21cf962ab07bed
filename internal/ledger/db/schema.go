package db

import (
	"context"
	"fmt"

	"ms-contest/internal/models"

	"github.com/uptrace/bun"
)

// CreateSchema builds the ledger tables from the models. Postgres deployments use the
// versioned migrations instead; this path serves SQLite and tests.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*models.Entry)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create entries: %w", err)
	}

	for _, model := range []interface{}{(*models.Exposure)(nil), (*models.Vote)(nil)} {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			ForeignKey(`("entry_id") REFERENCES "entries" ("id") ON DELETE CASCADE`).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct {
		model  interface{}
		name   string
		column []string
	}{
		{(*models.Exposure)(nil), "idx_exposures_session", []string{"session"}},
		{(*models.Vote)(nil), "idx_votes_session", []string{"session"}},
		{(*models.Entry)(nil), "idx_entries_vote_count", []string{"vote_count DESC", "id"}},
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists()
		for _, col := range idx.column {
			q = q.ColumnExpr(col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DropSchema removes the ledger tables, children first.
func DropSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*models.Vote)(nil), (*models.Exposure)(nil), (*models.Entry)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return nil
}
