package ledger

import (
	"context"
	"errors"
	"fmt"

	"ms-contest/internal/models"
)

// CastVote records one vote for (entryID, session). AlreadyVoted and EntryNotFound are
// outcomes, not errors; the error is reserved for validation and storage failures.
func (s *Service) CastVote(ctx context.Context, entryID int64, session string) (models.VoteOutcome, error) {
	if err := s.validateBallot(entryID, session); err != nil {
		return 0, err
	}

	err := s.withEntryLock(ctx, "cast_vote", entryID, false, func(ctx context.Context) error {
		return s.DB.CastVote(ctx, entryID, session)
	})

	var outcome models.VoteOutcome
	var storageErr *models.StorageError
	switch {
	case err == nil:
		outcome = models.VoteAccepted
	case errors.As(err, &storageErr):
		s.Logger.Error("VOTE", fmt.Sprintf("Cast vote on entry %d failed: %v", entryID, err))
		return 0, err
	case errors.Is(err, models.ErrAlreadyVoted):
		outcome = models.VoteAlreadyVoted
	case errors.Is(err, models.ErrNotFound):
		outcome = models.VoteEntryNotFound
	default:
		s.Logger.Error("VOTE", fmt.Sprintf("Cast vote on entry %d failed: %v", entryID, err))
		return 0, &models.StorageError{Op: "cast_vote", Err: err}
	}

	s.Logger.LogVote(outcome.String(), entryID, session)
	if outcome == models.VoteAccepted {
		s.committed(ctx, models.EventVoteCast, entryID)
	}
	return outcome, nil
}

// ResetAll deletes every vote and exposure and zeroes all tallies in one atomic unit.
// It holds the contest key exclusively, so no vote or exposure interleaves.
func (s *Service) ResetAll(ctx context.Context) error {
	err := s.withContestLock(ctx, "reset_all", func(ctx context.Context) error {
		return s.DB.ResetVotes(ctx)
	})
	if err != nil {
		var storageErr *models.StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		s.Logger.Error("VOTE", fmt.Sprintf("Reset failed: %v", err))
		return &models.StorageError{Op: "reset_all", Err: err}
	}

	s.Logger.Warn("VOTE", "Contest reset: all votes and exposures cleared")
	s.committed(ctx, models.EventContestReset, 0)
	return nil
}

// Tally reads the maintained vote count. It never counts vote rows.
func (s *Service) Tally(ctx context.Context, entryID int64) (int, error) {
	if err := validateEntryID(entryID); err != nil {
		return 0, err
	}
	count, err := s.DB.Tally(ctx, entryID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, fmt.Errorf("entry %d: %w", entryID, models.ErrNotFound)
		}
		return 0, &models.StorageError{Op: "tally", Err: err}
	}
	return count, nil
}
