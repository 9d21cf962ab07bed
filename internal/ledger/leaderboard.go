package ledger

import (
	"context"

	"ms-contest/internal/models"
)

// Top returns the n highest-voted entries, ties by id ascending. n <= 0 uses the
// configured leaderboard size.
func (s *Service) Top(ctx context.Context, n int) ([]models.Entry, error) {
	if n <= 0 {
		n = s.opts.LeaderboardSize
	}

	gen := int64(-1)
	if s.Cache != nil {
		entries, cacheGen, ok := s.Cache.GetTop(ctx, n)
		if ok {
			return entries, nil
		}
		gen = cacheGen
	}

	entries, err := s.readTop(ctx, n)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.SetTop(ctx, n, gen, entries)
	}
	return entries, nil
}

// readTop reads the ranking straight from the ledger, never from the cache.
func (s *Service) readTop(ctx context.Context, n int) ([]models.Entry, error) {
	if n <= 0 {
		n = s.opts.LeaderboardSize
	}
	entries, err := s.DB.TopEntries(ctx, n)
	if err != nil {
		return nil, &models.StorageError{Op: "top", Err: err}
	}
	return entries, nil
}

func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.DB.Stats(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "stats", Err: err}
	}
	return stats, nil
}

// Audit recounts vote rows against the maintained tallies. Offline use only.
func (s *Service) Audit(ctx context.Context) (*models.AuditReport, error) {
	report, err := s.DB.Audit(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "audit", Err: err}
	}
	if !report.Healthy() {
		s.Logger.Error("AUDIT", "Ledger invariants violated")
	}
	return report, nil
}
