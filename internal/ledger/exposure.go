package ledger

import (
	"context"
	"errors"
	"fmt"

	"ms-contest/internal/models"
)

// RecordExposure marks entryID as shown to session. Repeating the call is a no-op.
func (s *Service) RecordExposure(ctx context.Context, entryID int64, session string) error {
	if err := s.validateBallot(entryID, session); err != nil {
		return err
	}

	err := s.withEntryLock(ctx, "record_exposure", entryID, false, func(ctx context.Context) error {
		return s.DB.RecordExposure(ctx, entryID, session)
	})
	if err == nil {
		return nil
	}

	var storageErr *models.StorageError
	switch {
	case errors.As(err, &storageErr):
		return err
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("entry %d: %w", entryID, models.ErrNotFound)
	default:
		s.Logger.Error("EXPOSURE", fmt.Sprintf("Record exposure of entry %d failed: %v", entryID, err))
		return &models.StorageError{Op: "record_exposure", Err: err}
	}
}

// UnseenEntryIDs lists every entry id never exposed to session, ascending.
func (s *Service) UnseenEntryIDs(ctx context.Context, session string) ([]int64, error) {
	entries, err := s.unseen(ctx, session)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	return ids, nil
}

func (s *Service) unseen(ctx context.Context, session string) ([]models.Entry, error) {
	if err := s.validateSession(session); err != nil {
		return nil, err
	}
	entries, err := s.DB.UnseenEntries(ctx, session)
	if err != nil {
		return nil, &models.StorageError{Op: "unseen_entries", Err: err}
	}
	return entries, nil
}

// ClearExposures wipes every exposure. A vote implies an exposure, so it refuses while
// any vote exists; ResetAll clears both together.
func (s *Service) ClearExposures(ctx context.Context) error {
	err := s.withContestLock(ctx, "clear_exposures", func(ctx context.Context) error {
		stats, err := s.DB.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.TotalVotes > 0 {
			return &models.ValidationError{Field: "exposures", Reason: "votes exist, reset the contest instead"}
		}
		return s.DB.ClearExposures(ctx)
	})
	if err != nil {
		var storageErr *models.StorageError
		if errors.As(err, &storageErr) || errors.Is(err, models.ErrValidation) {
			return err
		}
		return &models.StorageError{Op: "clear_exposures", Err: err}
	}
	return nil
}
