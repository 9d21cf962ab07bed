package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"ms-contest/internal/config"
	"ms-contest/internal/logger"
	"ms-contest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateEntries(ctx context.Context, name string, imageRefs []string) ([]models.Entry, error) {
	args := m.Called(name, imageRefs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Entry), args.Error(1)
}

func (m *MockDBLayer) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Entry), args.Error(1)
}

func (m *MockDBLayer) ListEntries(ctx context.Context, order models.EntryOrder) ([]models.Entry, error) {
	args := m.Called(order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Entry), args.Error(1)
}

func (m *MockDBLayer) TopEntries(ctx context.Context, n int) ([]models.Entry, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Entry), args.Error(1)
}

func (m *MockDBLayer) DeleteEntry(ctx context.Context, id int64) error {
	return m.Called(id).Error(0)
}

func (m *MockDBLayer) RecordExposure(ctx context.Context, entryID int64, session string) error {
	return m.Called(entryID, session).Error(0)
}

func (m *MockDBLayer) UnseenEntries(ctx context.Context, session string) ([]models.Entry, error) {
	args := m.Called(session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Entry), args.Error(1)
}

func (m *MockDBLayer) ClearExposures(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockDBLayer) CastVote(ctx context.Context, entryID int64, session string) error {
	return m.Called(entryID, session).Error(0)
}

func (m *MockDBLayer) ResetVotes(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockDBLayer) Tally(ctx context.Context, entryID int64) (int, error) {
	args := m.Called(entryID)
	return args.Int(0), args.Error(1)
}

func (m *MockDBLayer) Stats(ctx context.Context) (*models.Stats, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Stats), args.Error(1)
}

func (m *MockDBLayer) Audit(ctx context.Context) (*models.AuditReport, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditReport), args.Error(1)
}

func (m *MockDBLayer) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetTop(ctx context.Context, n int) ([]models.Entry, int64, bool) {
	args := m.Called(n)
	gen := args.Get(1).(int64)
	if args.Get(0) == nil {
		return nil, gen, args.Bool(2)
	}
	return args.Get(0).([]models.Entry), gen, args.Bool(2)
}

func (m *MockCache) SetTop(ctx context.Context, n int, gen int64, entries []models.Entry) {
	m.Called(n, gen, entries)
}

func (m *MockCache) Invalidate(ctx context.Context) {
	m.Called()
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishContestEvent(ctx context.Context, event models.ContestEvent) error {
	return m.Called(event.Type, event.EntryID).Error(0)
}

type fixture struct {
	db     *MockDBLayer
	cache  *MockCache
	events *MockPublisher
	svc    *Service
	logs   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     new(MockDBLayer),
		cache:  new(MockCache),
		events: new(MockPublisher),
		logs:   &bytes.Buffer{},
	}
	f.svc = NewService(f.db, NewLocalLocker(), f.cache, f.events, logger.NewWithWriter(f.logs), DefaultOptions())
	t.Cleanup(func() {
		f.db.AssertExpectations(t)
		f.cache.AssertExpectations(t)
		f.events.AssertExpectations(t)
	})
	return f
}

func TestCastVote_Accepted(t *testing.T) {
	f := newFixture(t)
	f.db.On("CastVote", int64(1), "s1").Return(nil)
	f.cache.On("Invalidate").Return()
	f.events.On("PublishContestEvent", models.EventVoteCast, int64(1)).Return(nil)

	outcome, err := f.svc.CastVote(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.VoteAccepted, outcome)
}

func TestCastVote_AlreadyVotedHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.db.On("CastVote", int64(1), "s1").Return(models.ErrAlreadyVoted)

	outcome, err := f.svc.CastVote(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.VoteAlreadyVoted, outcome)
	assert.NotContains(t, f.logs.String(), "ERROR", "a repeat vote is not a system error")
	f.cache.AssertNotCalled(t, "Invalidate")
	f.events.AssertNotCalled(t, "PublishContestEvent", mock.Anything, mock.Anything)
}

func TestCastVote_EntryNotFound(t *testing.T) {
	f := newFixture(t)
	f.db.On("CastVote", int64(9), "s1").Return(models.ErrNotFound)

	outcome, err := f.svc.CastVote(context.Background(), 9, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.VoteEntryNotFound, outcome)
}

func TestCastVote_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.db.On("CastVote", int64(1), "s1").Return(errors.New("connection reset"))

	outcome, err := f.svc.CastVote(context.Background(), 1, "s1")
	require.Error(t, err)
	assert.Zero(t, outcome)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCastVote_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		entryID int64
		session string
		field   string
	}{
		{"missing entry", 0, "s1", "contestant_id"},
		{"negative entry", -4, "s1", "contestant_id"},
		{"missing session", 1, "", "session"},
		{"blank session", 1, "   ", "session"},
		{"oversized session", 1, string(make([]byte, 129)), "session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CastVote(context.Background(), tt.entryID, tt.session)
			require.ErrorIs(t, err, models.ErrValidation)
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	f.db.AssertNotCalled(t, "CastVote", mock.Anything, mock.Anything)
}

func TestCastVote_PublishFailureDoesNotFailVote(t *testing.T) {
	f := newFixture(t)
	f.db.On("CastVote", int64(1), "s1").Return(nil)
	f.cache.On("Invalidate").Return()
	f.events.On("PublishContestEvent", models.EventVoteCast, int64(1)).Return(errors.New("broker down"))

	outcome, err := f.svc.CastVote(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.VoteAccepted, outcome)
	assert.Contains(t, f.logs.String(), "broker down")
}

func TestRecordExposure(t *testing.T) {
	f := newFixture(t)
	f.db.On("RecordExposure", int64(2), "s1").Return(nil).Twice()
	f.db.On("RecordExposure", int64(3), "s1").Return(models.ErrNotFound)

	ctx := context.Background()
	require.NoError(t, f.svc.RecordExposure(ctx, 2, "s1"))
	require.NoError(t, f.svc.RecordExposure(ctx, 2, "s1"))
	assert.ErrorIs(t, f.svc.RecordExposure(ctx, 3, "s1"), models.ErrNotFound)
	assert.ErrorIs(t, f.svc.RecordExposure(ctx, 3, ""), models.ErrValidation)
}

func TestFeedForShufflesUnseenEntries(t *testing.T) {
	f := newFixture(t)
	unseen := []models.Entry{{ID: 1}, {ID: 2}, {ID: 3}}
	f.db.On("UnseenEntries", "s1").Return(unseen, nil)

	var shuffled bool
	f.svc.shuffle = func(entries []models.Entry) {
		shuffled = true
		entries[0], entries[2] = entries[2], entries[0]
	}

	feed, err := f.svc.FeedFor(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, shuffled)
	assert.Equal(t, []int64{3, 2, 1}, []int64{feed[0].ID, feed[1].ID, feed[2].ID})

	_, err = f.svc.FeedFor(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUnseenEntryIDs(t *testing.T) {
	f := newFixture(t)
	f.db.On("UnseenEntries", "s1").Return([]models.Entry{{ID: 4}, {ID: 7}}, nil)

	ids, err := f.svc.UnseenEntryIDs(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 7}, ids)
}

func TestTopUsesCache(t *testing.T) {
	f := newFixture(t)
	cached := []models.Entry{{ID: 1, VoteCount: 5}}
	f.cache.On("GetTop", 3).Return(cached, int64(0), true).Once()

	top, err := f.svc.Top(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, cached, top)
	f.db.AssertNotCalled(t, "TopEntries", mock.Anything)
}

func TestTopFillsCacheOnMiss(t *testing.T) {
	f := newFixture(t)
	fresh := []models.Entry{{ID: 2, VoteCount: 1}}
	f.cache.On("GetTop", 5).Return(nil, int64(4), false).Once()
	f.db.On("TopEntries", 5).Return(fresh, nil).Once()
	f.cache.On("SetTop", 5, int64(4), fresh).Return().Once()

	top, err := f.svc.Top(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, fresh, top)
}

func TestCreateEntries(t *testing.T) {
	f := newFixture(t)
	created := []models.Entry{{ID: 1, Name: "Contestant", ImageRef: "/a.png"}, {ID: 2, Name: "Contestant", ImageRef: "/b.png"}}
	f.db.On("CreateEntries", "Contestant", []string{"/a.png", "/b.png"}).Return(created, nil)
	f.cache.On("Invalidate").Return().Twice()
	f.events.On("PublishContestEvent", models.EventEntryCreated, int64(1)).Return(nil)
	f.events.On("PublishContestEvent", models.EventEntryCreated, int64(2)).Return(nil)

	entries, err := f.svc.CreateEntries(context.Background(), "  ", []string{" /a.png", "/b.png "})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCreateEntries_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateEntries(ctx, "x", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = "/img.png"
	}
	_, err = f.svc.CreateEntries(ctx, "x", tooMany)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.CreateEntries(ctx, "x", []string{"/ok.png", " "})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDeleteEntry(t *testing.T) {
	f := newFixture(t)
	f.db.On("DeleteEntry", int64(5)).Return(nil)
	f.db.On("DeleteEntry", int64(6)).Return(models.ErrNotFound)
	f.cache.On("Invalidate").Return().Once()
	f.events.On("PublishContestEvent", models.EventEntryDeleted, int64(5)).Return(nil)

	ctx := context.Background()
	require.NoError(t, f.svc.DeleteEntry(ctx, 5))
	assert.ErrorIs(t, f.svc.DeleteEntry(ctx, 6), models.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteEntry(ctx, 0), models.ErrValidation)
}

func TestResetAll(t *testing.T) {
	f := newFixture(t)
	f.db.On("ResetVotes").Return(nil).Once()
	f.cache.On("Invalidate").Return().Once()
	f.events.On("PublishContestEvent", models.EventContestReset, int64(0)).Return(nil)

	require.NoError(t, f.svc.ResetAll(context.Background()))
}

func TestResetAll_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.db.On("ResetVotes").Return(errors.New("tx aborted")).Once()

	err := f.svc.ResetAll(context.Background())
	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestClearExposuresRefusesWhileVotesExist(t *testing.T) {
	f := newFixture(t)
	f.db.On("Stats").Return(&models.Stats{TotalVotes: 2}, nil).Once()

	err := f.svc.ClearExposures(context.Background())
	assert.ErrorIs(t, err, models.ErrValidation)
	f.db.AssertNotCalled(t, "ClearExposures")

	f.db.On("Stats").Return(&models.Stats{}, nil).Once()
	f.db.On("ClearExposures").Return(nil).Once()
	require.NoError(t, f.svc.ClearExposures(context.Background()))
}

func TestTally(t *testing.T) {
	f := newFixture(t)
	f.db.On("Tally", int64(1)).Return(4, nil)
	f.db.On("Tally", int64(2)).Return(0, models.ErrNotFound)

	n, err := f.svc.Tally(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = f.svc.Tally(context.Background(), 2)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type blockingLock struct{}

func (blockingLock) Lock(ctx context.Context, key string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingLock) RLock(ctx context.Context, key string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLockTimeoutIsStorageFailure(t *testing.T) {
	db := new(MockDBLayer)
	svc := NewService(db, blockingLock{}, nil, nil, logger.NewWithWriter(&bytes.Buffer{}), DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CastVote(ctx, 1, "s1")
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.ErrorIs(t, svc.DeleteEntry(ctx, 1), models.ErrStorage)
	assert.ErrorIs(t, svc.ResetAll(ctx), models.ErrStorage)
	db.AssertNotCalled(t, "CastVote", mock.Anything, mock.Anything)
}

func TestSessionLengthIsCapped(t *testing.T) {
	db := new(MockDBLayer)
	opts := DefaultOptions()
	opts.MaxSessionLength = 1 << 20
	svc := NewService(db, nil, nil, nil, logger.NewWithWriter(&bytes.Buffer{}), opts)
	assert.Equal(t, config.MaxSessionLengthLimit, svc.Options().MaxSessionLength)

	long := strings.Repeat("s", config.MaxSessionLengthLimit+1)
	_, err := svc.CastVote(context.Background(), 1, long)
	assert.ErrorIs(t, err, models.ErrValidation)
	db.AssertNotCalled(t, "CastVote", mock.Anything, mock.Anything)
}
