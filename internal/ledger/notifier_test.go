package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu      sync.Mutex
	updates []models.LeaderboardUpdate
}

func (r *recordingEmitter) Emit(update models.LeaderboardUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestNotifierEmitsSnapshot(t *testing.T) {
	db := new(MockDBLayer)
	top := []models.Entry{{ID: 1, VoteCount: 3}}
	db.On("TopEntries", 3).Return(top, nil)
	db.On("Stats").Return(&models.Stats{TotalEntries: 1, TotalVotes: 3, UniqueSessions: 3}, nil)

	log := logger.NewWithWriter(&bytes.Buffer{})
	svc := NewService(db, nil, nil, nil, log, DefaultOptions())
	emitter := &recordingEmitter{}
	notifier := NewLeaderboardNotifier(svc, emitter, log)

	notifier.HandleEvent(context.Background(), models.NewContestEvent(models.EventVoteCast, 1))

	require.Equal(t, 1, emitter.count())
	update := emitter.updates[0]
	assert.Equal(t, models.EventVoteCast, update.Reason)
	assert.Equal(t, top, update.Top)
	assert.Equal(t, 3, update.Stats.TotalVotes)
}

func TestNotifierReadsPastCache(t *testing.T) {
	db := new(MockDBLayer)
	fresh := []models.Entry{{ID: 1, VoteCount: 4}}
	db.On("TopEntries", 3).Return(fresh, nil).Once()
	db.On("Stats").Return(&models.Stats{TotalEntries: 1, TotalVotes: 4, UniqueSessions: 4}, nil)
	cache := new(MockCache)

	log := logger.NewWithWriter(&bytes.Buffer{})
	emitter := &recordingEmitter{}
	svc := NewService(db, nil, cache, nil, log, DefaultOptions())
	NewLeaderboardNotifier(svc, emitter, log).HandleEvent(context.Background(), models.NewContestEvent(models.EventVoteCast, 1))

	require.Equal(t, 1, emitter.count())
	assert.Equal(t, fresh, emitter.updates[0].Top)
	cache.AssertNotCalled(t, "GetTop", mock.Anything)
	cache.AssertNotCalled(t, "SetTop", mock.Anything, mock.Anything, mock.Anything)
	db.AssertExpectations(t)
}

func TestNotifierPrime(t *testing.T) {
	db := new(MockDBLayer)
	db.On("TopEntries", 3).Return([]models.Entry{}, nil)
	db.On("Stats").Return(&models.Stats{}, nil)

	log := logger.NewWithWriter(&bytes.Buffer{})
	emitter := &recordingEmitter{}
	NewLeaderboardNotifier(NewService(db, nil, nil, nil, log, DefaultOptions()), emitter, log).Prime(context.Background())

	require.Equal(t, 1, emitter.count())
	assert.Equal(t, models.EventSnapshot, emitter.updates[0].Reason)
}

func TestNotifierSkipsOnStorageError(t *testing.T) {
	db := new(MockDBLayer)
	db.On("TopEntries", 3).Return(nil, errors.New("down"))

	log := logger.NewWithWriter(&bytes.Buffer{})
	svc := NewService(db, nil, nil, nil, log, DefaultOptions())
	emitter := &recordingEmitter{}

	NewLeaderboardNotifier(svc, emitter, log).HandleEvent(context.Background(), models.NewContestEvent(models.EventContestReset, 0))
	assert.Zero(t, emitter.count())
}

func TestLocalPublisherDispatches(t *testing.T) {
	pub := NewLocalPublisher(4)
	var mu sync.Mutex
	var seen []models.ContestEventType
	pub.Subscribe(func(ctx context.Context, event models.ContestEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Type)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	require.NoError(t, pub.PublishContestEvent(ctx, models.NewContestEvent(models.EventEntryCreated, 1)))
	require.NoError(t, pub.PublishContestEvent(ctx, models.NewContestEvent(models.EventVoteCast, 1)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []models.ContestEventType{models.EventEntryCreated, models.EventVoteCast}, seen)
}

func TestLocalPublisherDropsWhenFull(t *testing.T) {
	pub := NewLocalPublisher(1)
	ctx := context.Background()

	require.NoError(t, pub.PublishContestEvent(ctx, models.NewContestEvent(models.EventVoteCast, 1)))
	assert.ErrorIs(t, pub.PublishContestEvent(ctx, models.NewContestEvent(models.EventVoteCast, 2)), ErrPublisherFull)
}
