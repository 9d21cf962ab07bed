package badgerstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// purge deletes every key the ledger can no longer reach: votes and exposures from a
// past epoch and rows of tombstoned entries. No ledger transaction reads those keys, so
// they go through a write batch that splits itself below badger's transaction limit.
// Epochs only advance and tombstoned ids are never reused, so a concurrent writer can
// never produce a key that purge would remove. Returns the number of keys deleted.
func (s *Store) purge(ctx context.Context) (int, error) {
	var ep epochs
	var tombstones [][]byte
	deleted := make(map[int64]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if ep, err = currentEpochs(txn); err != nil {
			return err
		}
		tombstones = keysWithPrefix(txn, tombstonePrefix)
		for _, k := range tombstones {
			if id, ok := indexEntryID(tombstonePrefix, k); ok {
				deleted[id] = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	purged := 0
	sweep := func(txn *badger.Txn, prefix []byte, stale func(key []byte) bool) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if purged%1024 == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			key := it.Item().KeyCopy(nil)
			if !stale(key) {
				continue
			}
			if err := wb.Delete(key); err != nil {
				return err
			}
			purged++
		}
		return nil
	}

	err = s.db.View(func(txn *badger.Txn) error {
		err := sweep(txn, votePrefix, func(key []byte) bool {
			epoch, id, _, ok := splitPairKey(votePrefix, key)
			return !ok || epoch != ep.votes || deleted[id]
		})
		if err != nil {
			return fmt.Errorf("sweep votes: %w", err)
		}
		err = sweep(txn, exposurePrefix, func(key []byte) bool {
			epoch, id, _, ok := splitPairKey(exposurePrefix, key)
			return !ok || epoch != ep.views || deleted[id]
		})
		if err != nil {
			return fmt.Errorf("sweep exposures: %w", err)
		}
		err = sweep(txn, sessionPrefix, func(key []byte) bool {
			epoch, id, ok := splitIndexKey(key)
			return !ok || epoch != ep.views || deleted[id]
		})
		if err != nil {
			return fmt.Errorf("sweep session index: %w", err)
		}
		return nil
	})
	if err != nil {
		return purged, err
	}
	if err := wb.Flush(); err != nil {
		return purged, fmt.Errorf("flush purge: %w", err)
	}

	if len(tombstones) == 0 {
		return purged, nil
	}
	// Tombstones go last so a failed sweep is retried by the next purge.
	tb := s.db.NewWriteBatch()
	defer tb.Cancel()
	for _, k := range tombstones {
		if err := tb.Delete(k); err != nil {
			return purged, err
		}
	}
	return purged, tb.Flush()
}

// purgeAndLog runs purge after a committed reset, clear or delete. A failure is logged
// only: the leftover keys are invisible to the ledger and the next purge retries them.
func (s *Store) purgeAndLog(ctx context.Context, op string) {
	n, err := s.purge(context.WithoutCancel(ctx))
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Error("DATABASE", fmt.Sprintf("badger purge after %s failed: %v", op, err))
		return
	}
	if n > 0 {
		s.logger.LogDatabase("PURGE", "badger", fmt.Sprintf("Removed %d unreachable keys after %s", n, op))
	}
}
