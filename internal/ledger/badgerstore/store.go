package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"
	"ms-contest/internal/utils"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const maxConflictRetries = 200

var ErrTooManyConflicts = errors.New("badgerstore: transaction kept conflicting")

// Store is the embedded key-value ledger. Every mutation is one serializable badger
// transaction touching a bounded number of keys; writers that touch the same entry
// conflict and are retried. Bulk removal is left to purge.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *logger.Logger
}

func newBadgerLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Open opens the store at path. An empty path keeps everything in memory. Keys left
// behind by an interrupted purge are removed before Open returns.
func Open(path string, log *logger.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(newBadgerLogger())
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence(entrySequence, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("entry sequence: %w", err)
	}

	s := &Store{db: db, seq: seq, logger: log}
	s.purgeAndLog(context.Background(), "open")

	if log != nil {
		log.LogDatabase("OPEN", "badger", fmt.Sprintf("Key-value store ready (in_memory=%t)", path == ""))
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// RunGC reclaims value log space every interval until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// update runs fn in a read-write transaction and retries it on conflict. fn must not
// leak state between attempts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= maxConflictRetries {
			return fmt.Errorf("%w: %v", ErrTooManyConflicts, err)
		}

		wait := time.Duration(rand.IntN(1+min(attempt, 20))) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ---------------- HELPERS ----------------

// entryRecord is the stored form of an entry. VoteCount only counts while VoteEpoch is
// the current vote epoch, so a reset zeroes every tally without rewriting any entry.
type entryRecord struct {
	models.Entry
	VoteEpoch uint64 `json:"vote_epoch"`
}

func (r *entryRecord) at(voteEpoch uint64) models.Entry {
	entry := r.Entry
	if r.VoteEpoch != voteEpoch {
		entry.VoteCount = 0
	}
	return entry
}

type epochs struct {
	votes uint64
	views uint64
}

func readCounter(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

// currentEpochs reads both epochs inside txn, which also puts them in its read set: a
// concurrent reset or view clear conflicts with every writer that used the old values.
func currentEpochs(txn *badger.Txn) (epochs, error) {
	votes, err := readCounter(txn, voteEpochKey)
	if err != nil {
		return epochs{}, fmt.Errorf("vote epoch: %w", err)
	}
	views, err := readCounter(txn, viewEpochKey)
	if err != nil {
		return epochs{}, fmt.Errorf("view epoch: %w", err)
	}
	return epochs{votes: votes, views: views}, nil
}

func getRecord(txn *badger.Txn, id int64) (*entryRecord, error) {
	item, err := txn.Get(entryKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec entryRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode entry %d: %w", id, err)
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, rec *entryRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(entryKey(rec.ID), val)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// keysWithPrefix collects keys first so callers can delete while holding no iterator.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// liveIDs returns the ids of every stored entry.
func liveIDs(txn *badger.Txn) map[int64]bool {
	ids := make(map[int64]bool)
	for _, k := range keysWithPrefix(txn, entryPrefix) {
		if id, ok := indexEntryID(entryPrefix, k); ok {
			ids[id] = true
		}
	}
	return ids
}

func allEntries(txn *badger.Txn, voteEpoch uint64) ([]models.Entry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entryPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var entries []models.Entry
	for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
		var rec entryRecord
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, rec.at(voteEpoch))
	}
	return entries, nil
}

func byVotes(a, b models.Entry) int {
	if a.VoteCount != b.VoteCount {
		return b.VoteCount - a.VoteCount
	}
	return cmpID(a.ID, b.ID)
}

func byNewest(a, b models.Entry) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmpID(b.ID, a.ID)
}

func cmpID(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ---------------- ENTRIES ----------------

func (s *Store) CreateEntries(ctx context.Context, name string, imageRefs []string) ([]models.Entry, error) {
	ids := make([]int64, len(imageRefs))
	for i := range imageRefs {
		n, err := s.seq.Next()
		if err != nil {
			return nil, fmt.Errorf("next entry id: %w", err)
		}
		ids[i] = int64(n) + 1
	}

	var entries []models.Entry
	err := s.update(ctx, func(txn *badger.Txn) error {
		entries = make([]models.Entry, 0, len(imageRefs))
		now := time.Now().UTC()
		for i, ref := range imageRefs {
			rec := entryRecord{Entry: models.Entry{ID: ids[i], Name: name, ImageRef: ref, CreatedAt: now}}
			if err := putRecord(txn, &rec); err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
			entries = append(entries, rec.Entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	var entry models.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		entry = rec.at(ep.votes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListEntries(ctx context.Context, order models.EntryOrder) ([]models.Entry, error) {
	var entries []models.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		entries, err = allEntries(txn, ep.votes)
		return err
	})
	if err != nil {
		return nil, err
	}

	if order == models.OrderVotes {
		slices.SortFunc(entries, byVotes)
	} else {
		slices.SortFunc(entries, byNewest)
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}

func (s *Store) TopEntries(ctx context.Context, n int) ([]models.Entry, error) {
	entries, err := s.ListEntries(ctx, models.OrderVotes)
	if err != nil {
		return nil, err
	}
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries, nil
}

// DeleteEntry removes the entry and leaves a tombstone in one small transaction. Its
// votes and exposures stop counting at commit and are purged afterwards.
func (s *Store) DeleteEntry(ctx context.Context, id int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getRecord(txn, id); err != nil {
			return err
		}
		if err := txn.Set(tombstoneKey(id), nil); err != nil {
			return err
		}
		return txn.Delete(entryKey(id))
	})
	if err != nil {
		return err
	}
	s.purgeAndLog(ctx, "delete")
	return nil
}

// ---------------- EXPOSURES ----------------

func putExposure(txn *badger.Txn, viewEpoch uint64, id int64, session string) error {
	now := utils.EncodeUnixMilli(time.Now())
	if err := txn.Set(exposureKey(viewEpoch, id, session), now); err != nil {
		return err
	}
	return txn.Set(sessionIndexKey(viewEpoch, session, id), nil)
}

// RecordExposure rewrites the entry key alongside the exposure so a concurrent delete
// of the same entry always conflicts with it.
func (s *Store) RecordExposure(ctx context.Context, entryID int64, session string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		rec, err := getRecord(txn, entryID)
		if err != nil {
			return err
		}
		seen, err := exists(txn, exposureKey(ep.views, entryID, session))
		if err != nil || seen {
			return err
		}
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		return putExposure(txn, ep.views, entryID, session)
	})
}

func (s *Store) UnseenEntries(ctx context.Context, session string) ([]models.Entry, error) {
	unseen := []models.Entry{}
	err := s.db.View(func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		prefix := sessionIndexPrefix(ep.views, session)
		seen := make(map[int64]struct{})
		for _, k := range keysWithPrefix(txn, prefix) {
			if id, ok := indexEntryID(prefix, k); ok {
				seen[id] = struct{}{}
			}
		}

		entries, err := allEntries(txn, ep.votes)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, ok := seen[e.ID]; !ok {
				unseen = append(unseen, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unseen, nil
}

// ClearExposures advances the view epoch. Votes are untouched.
func (s *Store) ClearExposures(ctx context.Context) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		return txn.Set(viewEpochKey, beU64(ep.views+1))
	})
	if err != nil {
		return err
	}
	s.purgeAndLog(ctx, "clear_exposures")
	return nil
}

// ---------------- VOTES ----------------

// CastVote increments the tally and writes the vote and exposure atomically. Returns
// models.ErrNotFound or models.ErrAlreadyVoted for the non-accepted outcomes.
func (s *Store) CastVote(ctx context.Context, entryID int64, session string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		rec, err := getRecord(txn, entryID)
		if err != nil {
			return err
		}
		voted, err := exists(txn, voteKey(ep.votes, entryID, session))
		if err != nil {
			return err
		}
		if voted {
			return models.ErrAlreadyVoted
		}

		entry := rec.at(ep.votes)
		entry.VoteCount++
		if err := putRecord(txn, &entryRecord{Entry: entry, VoteEpoch: ep.votes}); err != nil {
			return fmt.Errorf("increment tally: %w", err)
		}
		if err := txn.Set(voteKey(ep.votes, entryID, session), utils.EncodeUnixMilli(time.Now())); err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		return putExposure(txn, ep.views, entryID, session)
	})
}

// ResetVotes advances both epochs in one transaction, which zeroes every tally and hides
// every vote and exposure at once, whatever the size of the ledger.
func (s *Store) ResetVotes(ctx context.Context) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		if err := txn.Set(voteEpochKey, beU64(ep.votes+1)); err != nil {
			return err
		}
		return txn.Set(viewEpochKey, beU64(ep.views+1))
	})
	if err != nil {
		return err
	}
	s.purgeAndLog(ctx, "reset_votes")
	return nil
}

func (s *Store) Tally(ctx context.Context, entryID int64) (int, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return 0, err
	}
	return entry.VoteCount, nil
}

// ---------------- AGGREGATES ----------------

func (s *Store) Stats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	err := s.db.View(func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		live := liveIDs(txn)
		stats.TotalEntries = len(live)

		prefix := epochVotes(ep.votes)
		sessions := make(map[string]struct{})
		for _, k := range keysWithPrefix(txn, prefix) {
			if _, id, session, ok := splitPairKey(votePrefix, k); ok && live[id] {
				stats.TotalVotes++
				sessions[session] = struct{}{}
			}
		}
		stats.UniqueSessions = len(sessions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Audit walks the current votes and exposures in one snapshot. Rows of tombstoned
// entries are awaiting purge and are not counted as dangling.
func (s *Store) Audit(ctx context.Context) (*models.AuditReport, error) {
	report := &models.AuditReport{CheckedAt: time.Now().UTC(), Mismatches: []models.TallyMismatch{}}
	err := s.db.View(func(txn *badger.Txn) error {
		ep, err := currentEpochs(txn)
		if err != nil {
			return err
		}
		entries, err := allEntries(txn, ep.votes)
		if err != nil {
			return err
		}
		known := make(map[int64]bool, len(entries))
		for _, e := range entries {
			known[e.ID] = true
		}
		deleted := make(map[int64]bool)
		for _, k := range keysWithPrefix(txn, tombstonePrefix) {
			if id, ok := indexEntryID(tombstonePrefix, k); ok {
				deleted[id] = true
			}
		}

		rows := make(map[int64]int)
		for _, k := range keysWithPrefix(txn, epochVotes(ep.votes)) {
			_, id, session, ok := splitPairKey(votePrefix, k)
			if !ok || deleted[id] {
				continue
			}
			if !known[id] {
				report.DanglingRows++
				continue
			}
			rows[id]++
			exposed, err := exists(txn, exposureKey(ep.views, id, session))
			if err != nil {
				return err
			}
			if !exposed {
				report.VotesWithoutExposure++
			}
		}
		for _, k := range keysWithPrefix(txn, epochExposures(ep.views)) {
			if _, id, _, ok := splitPairKey(exposurePrefix, k); ok && !known[id] && !deleted[id] {
				report.DanglingRows++
			}
		}

		for _, e := range entries {
			if e.VoteCount != rows[e.ID] {
				report.Mismatches = append(report.Mismatches, models.TallyMismatch{
					EntryID: e.ID, VoteCount: e.VoteCount, VoteRows: rows[e.ID],
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
