package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-contest/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// DB is the relational ledger store. Every multi-row mutation runs in one transaction;
// uniqueness of (entry_id, session) is enforced by the schema, never by a prior read.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func (d *DB) Ping(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.Bun.Close()
}

func (d *DB) isPostgres() bool {
	return d.Bun.Dialect().Name() == dialect.PG
}

// lockEntry confirms the entry exists inside tx. On Postgres it also takes a row lock in
// the given mode so deletes and resets serialize with votes on the same row. SQLite
// serializes writers on the connection already.
func (d *DB) lockEntry(ctx context.Context, tx bun.Tx, id int64, mode string) error {
	q := tx.NewSelect().
		Model((*models.Entry)(nil)).
		Column("id").
		Where("id = ?", id)
	if d.isPostgres() {
		q = q.For(mode)
	}

	var found int64
	if err := q.Scan(ctx, &found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		return err
	}
	return nil
}

// ---------------- ENTRIES ----------------

// CreateEntries inserts one entry per image reference in a single transaction.
func (d *DB) CreateEntries(ctx context.Context, name string, imageRefs []string) ([]models.Entry, error) {
	entries := make([]models.Entry, 0, len(imageRefs))
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, ref := range imageRefs {
			entry := models.Entry{
				Name:      name,
				ImageRef:  ref,
				CreatedAt: time.Now().UTC(),
			}
			if _, err := tx.NewInsert().Model(&entry).Exec(ctx); err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *DB) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	var entry models.Entry
	err := d.Bun.NewSelect().
		Model(&entry).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (d *DB) ListEntries(ctx context.Context, order models.EntryOrder) ([]models.Entry, error) {
	entries := []models.Entry{}
	q := d.Bun.NewSelect().Model(&entries)
	if order == models.OrderVotes {
		q = q.Order("vote_count DESC", "id ASC")
	} else {
		q = q.Order("created_at DESC", "id DESC")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

// TopEntries returns up to n entries by vote count, ties broken by id ascending.
func (d *DB) TopEntries(ctx context.Context, n int) ([]models.Entry, error) {
	entries := []models.Entry{}
	err := d.Bun.NewSelect().
		Model(&entries).
		Order("vote_count DESC", "id ASC").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteEntry removes the entry together with its votes and exposures.
func (d *DB) DeleteEntry(ctx context.Context, id int64) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.lockEntry(ctx, tx, id, "UPDATE"); err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*models.Vote)(nil)).Where("entry_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if _, err := tx.NewDelete().Model((*models.Exposure)(nil)).Where("entry_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete exposures: %w", err)
		}

		res, err := tx.NewDelete().Model((*models.Entry)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// ---------------- EXPOSURES ----------------

// RecordExposure is idempotent: a repeated pair is a no-op.
func (d *DB) RecordExposure(ctx context.Context, entryID int64, session string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.lockEntry(ctx, tx, entryID, "SHARE"); err != nil {
			return err
		}
		return insertExposure(ctx, tx, entryID, session)
	})
}

func insertExposure(ctx context.Context, tx bun.Tx, entryID int64, session string) error {
	exposure := models.Exposure{
		EntryID:   entryID,
		Session:   session,
		CreatedAt: time.Now().UTC(),
	}
	_, err := tx.NewInsert().
		Model(&exposure).
		On("CONFLICT (entry_id, session) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert exposure: %w", err)
	}
	return nil
}

// UnseenEntries returns every entry the session has no exposure for, in id order.
func (d *DB) UnseenEntries(ctx context.Context, session string) ([]models.Entry, error) {
	seen := d.Bun.NewSelect().
		Model((*models.Exposure)(nil)).
		Column("entry_id").
		Where("session = ?", session)

	entries := []models.Entry{}
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("id NOT IN (?)", seen).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *DB) ClearExposures(ctx context.Context) error {
	_, err := d.Bun.NewDelete().Model((*models.Exposure)(nil)).Where("1 = 1").Exec(ctx)
	return err
}

// ---------------- VOTES ----------------

// CastVote increments the tally and inserts the vote in one transaction. The increment
// runs first so the entry row lock orders concurrent voters; a rejected insert rolls it
// back. Returns models.ErrNotFound or models.ErrAlreadyVoted for the non-accepted outcomes.
func (d *DB) CastVote(ctx context.Context, entryID int64, session string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Entry)(nil)).
			Set("vote_count = vote_count + 1").
			Where("id = ?", entryID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("increment tally: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}

		vote := models.Vote{
			EntryID:   entryID,
			Session:   session,
			CreatedAt: time.Now().UTC(),
		}
		res, err = tx.NewInsert().
			Model(&vote).
			On("CONFLICT (entry_id, session) DO NOTHING").
			Returning("NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrAlreadyVoted
		}

		return insertExposure(ctx, tx, entryID, session)
	})
}

// ResetVotes deletes all votes and exposures and zeroes every tally atomically.
func (d *DB) ResetVotes(ctx context.Context) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if d.isPostgres() {
			var ids []int64
			err := tx.NewSelect().
				Model((*models.Entry)(nil)).
				Column("id").
				For("UPDATE").
				Scan(ctx, &ids)
			if err != nil {
				return fmt.Errorf("lock entries: %w", err)
			}
		}

		if _, err := tx.NewDelete().Model((*models.Vote)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		_, err := tx.NewUpdate().
			Model((*models.Entry)(nil)).
			Set("vote_count = 0").
			Where("vote_count <> 0").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("zero tallies: %w", err)
		}
		if _, err := tx.NewDelete().Model((*models.Exposure)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("delete exposures: %w", err)
		}
		return nil
	})
}

func (d *DB) Tally(ctx context.Context, entryID int64) (int, error) {
	var count int
	err := d.Bun.NewSelect().
		Model((*models.Entry)(nil)).
		Column("vote_count").
		Where("id = ?", entryID).
		Scan(ctx, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

// ---------------- AGGREGATES ----------------

// Stats counts in one statement so all three figures come from the same snapshot.
func (d *DB) Stats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	err := d.Bun.NewRaw(statsQuery).Scan(ctx, &stats.TotalEntries, &stats.TotalVotes, &stats.UniqueSessions)
	if err != nil {
		return nil, fmt.Errorf("count stats: %w", err)
	}
	return &stats, nil
}

const (
	statsQuery = `SELECT
	(SELECT COUNT(*) FROM entries) AS total_entries,
	(SELECT COUNT(*) FROM votes) AS total_votes,
	(SELECT COUNT(DISTINCT session) FROM votes) AS unique_sessions`

	mismatchQuery = `SELECT e.id AS entry_id, e.vote_count AS vote_count, COUNT(v.id) AS vote_rows
FROM entries AS e
LEFT JOIN votes AS v ON v.entry_id = e.id
GROUP BY e.id, e.vote_count
HAVING e.vote_count <> COUNT(v.id)
ORDER BY e.id`

	unexposedQuery = `SELECT COUNT(*) FROM votes AS v
WHERE NOT EXISTS (SELECT 1 FROM exposures AS x WHERE x.entry_id = v.entry_id AND x.session = v.session)`

	danglingQuery = `SELECT
(SELECT COUNT(*) FROM votes AS v WHERE NOT EXISTS (SELECT 1 FROM entries AS e WHERE e.id = v.entry_id)) +
(SELECT COUNT(*) FROM exposures AS x WHERE NOT EXISTS (SELECT 1 FROM entries AS e WHERE e.id = x.entry_id))`
)

// Audit counts vote rows per entry, which is exactly what the hot path avoids. Use it
// for offline verification only.
func (d *DB) Audit(ctx context.Context) (*models.AuditReport, error) {
	report := &models.AuditReport{CheckedAt: time.Now().UTC(), Mismatches: []models.TallyMismatch{}}

	if err := d.Bun.NewRaw(mismatchQuery).Scan(ctx, &report.Mismatches); err != nil {
		return nil, fmt.Errorf("tally mismatches: %w", err)
	}
	if err := d.Bun.NewRaw(unexposedQuery).Scan(ctx, &report.VotesWithoutExposure); err != nil {
		return nil, fmt.Errorf("votes without exposure: %w", err)
	}
	if err := d.Bun.NewRaw(danglingQuery).Scan(ctx, &report.DanglingRows); err != nil {
		return nil, fmt.Errorf("dangling rows: %w", err)
	}
	return report, nil
}

// Dialect reports the storage flavour for health output.
func (d *DB) Dialect() string {
	return strings.ToLower(d.Bun.Dialect().Name().String())
}
