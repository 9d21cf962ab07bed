package ledger

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"ms-contest/internal/config"
	"ms-contest/internal/logger"
	"ms-contest/internal/models"
)

// DBLayer is the durable store behind the ledger. Implementations must make CastVote,
// DeleteEntry and ResetVotes atomic and enforce (entry_id, session) uniqueness for votes
// and exposures themselves.
type DBLayer interface {
	CreateEntries(ctx context.Context, name string, imageRefs []string) ([]models.Entry, error)
	GetEntry(ctx context.Context, id int64) (*models.Entry, error)
	ListEntries(ctx context.Context, order models.EntryOrder) ([]models.Entry, error)
	TopEntries(ctx context.Context, n int) ([]models.Entry, error)
	DeleteEntry(ctx context.Context, id int64) error

	RecordExposure(ctx context.Context, entryID int64, session string) error
	UnseenEntries(ctx context.Context, session string) ([]models.Entry, error)
	ClearExposures(ctx context.Context) error

	CastVote(ctx context.Context, entryID int64, session string) error
	ResetVotes(ctx context.Context) error
	Tally(ctx context.Context, entryID int64) (int, error)

	Stats(ctx context.Context) (*models.Stats, error)
	Audit(ctx context.Context) (*models.AuditReport, error)
	Ping(ctx context.Context) error
}

// UnitLock hands out keyed reader/writer locks. The returned func releases the lock.
type UnitLock interface {
	Lock(ctx context.Context, key string) (func(), error)
	RLock(ctx context.Context, key string) (func(), error)
}

// LeaderboardCache serves top(n) snapshots. A miss reports the cache generation, and
// SetTop stores only if no Invalidate happened since; a negative generation means the
// snapshot must not be stored.
type LeaderboardCache interface {
	GetTop(ctx context.Context, n int) ([]models.Entry, int64, bool)
	SetTop(ctx context.Context, n int, gen int64, entries []models.Entry)
	Invalidate(ctx context.Context)
}

type EventPublisher interface {
	PublishContestEvent(ctx context.Context, event models.ContestEvent) error
}

type Options struct {
	LeaderboardSize  int
	MaxBatch         int
	MaxSessionLength int
	MaxNameLength    int
	DefaultName      string
}

func OptionsFromConfig(cfg config.ContestConfig) Options {
	return Options{
		LeaderboardSize:  cfg.LeaderboardSize,
		MaxBatch:         cfg.MaxBatch,
		MaxSessionLength: cfg.MaxSessionLength,
		MaxNameLength:    cfg.MaxNameLength,
		DefaultName:      cfg.DefaultName,
	}
}

func DefaultOptions() Options {
	return Options{
		LeaderboardSize:  3,
		MaxBatch:         50,
		MaxSessionLength: 128,
		MaxNameLength:    200,
		DefaultName:      "Contestant",
	}
}

// Service is the voting ledger: entry store, exposure tracker, vote ledger, leaderboard
// and feed selector over one DBLayer.
type Service struct {
	DB     DBLayer
	Lock   UnitLock
	Cache  LeaderboardCache
	Events EventPublisher
	Logger *logger.Logger

	opts    Options
	shuffle func([]models.Entry)
}

// NewService wires the ledger. lock defaults to an in-process locker; cache and events
// may be nil.
func NewService(db DBLayer, lock UnitLock, cache LeaderboardCache, events EventPublisher, log *logger.Logger, opts Options) *Service {
	if lock == nil {
		lock = NewLocalLocker()
	}
	if log == nil {
		log = logger.NewLogger("")
	}
	defaults := DefaultOptions()
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = defaults.LeaderboardSize
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaults.MaxBatch
	}
	if opts.MaxSessionLength <= 0 {
		opts.MaxSessionLength = defaults.MaxSessionLength
	}
	opts.MaxSessionLength = min(opts.MaxSessionLength, config.MaxSessionLengthLimit)
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = defaults.MaxNameLength
	}
	if opts.DefaultName == "" {
		opts.DefaultName = defaults.DefaultName
	}

	return &Service{
		DB:     db,
		Lock:   lock,
		Cache:  cache,
		Events: events,
		Logger: log,
		opts:   opts,
		shuffle: func(entries []models.Entry) {
			rand.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
		},
	}
}

func (s *Service) Options() Options {
	return s.opts
}

func (s *Service) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

// ---------------- VALIDATION ----------------

func (s *Service) validateSession(session string) error {
	if strings.TrimSpace(session) == "" {
		return &models.ValidationError{Field: "session", Reason: "is required"}
	}
	if len(session) > s.opts.MaxSessionLength {
		return &models.ValidationError{Field: "session", Reason: fmt.Sprintf("exceeds %d bytes", s.opts.MaxSessionLength)}
	}
	return nil
}

func validateEntryID(id int64) error {
	if id <= 0 {
		return &models.ValidationError{Field: "contestant_id", Reason: "must be a positive integer"}
	}
	return nil
}

func (s *Service) validateBallot(entryID int64, session string) error {
	if err := validateEntryID(entryID); err != nil {
		return err
	}
	return s.validateSession(session)
}

// ---------------- LOCKING ----------------

const contestLockKey = "contest"

func entryLockKey(id int64) string {
	return fmt.Sprintf("entry:%d", id)
}

// withEntryLock holds the contest key shared and the entry key shared or exclusive.
// The store call runs on a context that ignores caller cancellation so an abandoned
// request never interrupts a commit.
func (s *Service) withEntryLock(ctx context.Context, op string, entryID int64, exclusive bool, fn func(context.Context) error) error {
	releaseContest, err := s.Lock.RLock(ctx, contestLockKey)
	if err != nil {
		return &models.StorageError{Op: op, Err: fmt.Errorf("acquire contest lock: %w", err)}
	}
	defer releaseContest()

	acquire := s.Lock.RLock
	if exclusive {
		acquire = s.Lock.Lock
	}
	releaseEntry, err := acquire(ctx, entryLockKey(entryID))
	if err != nil {
		return &models.StorageError{Op: op, Err: fmt.Errorf("acquire entry lock: %w", err)}
	}
	defer releaseEntry()

	return fn(context.WithoutCancel(ctx))
}

func (s *Service) withContestLock(ctx context.Context, op string, fn func(context.Context) error) error {
	release, err := s.Lock.Lock(ctx, contestLockKey)
	if err != nil {
		return &models.StorageError{Op: op, Err: fmt.Errorf("acquire contest lock: %w", err)}
	}
	defer release()

	return fn(context.WithoutCancel(ctx))
}

// ---------------- SIDE EFFECTS ----------------

// committed runs after a successful write: drop cached rankings and announce the change.
func (s *Service) committed(ctx context.Context, eventType models.ContestEventType, entryID int64) {
	ctx = context.WithoutCancel(ctx)
	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	if s.Events == nil {
		return
	}
	event := models.NewContestEvent(eventType, entryID)
	if err := s.Events.PublishContestEvent(ctx, event); err != nil {
		s.Logger.Error("EVENTS", fmt.Sprintf("Publish %s for entry %d failed: %v", eventType, entryID, err))
	}
}
