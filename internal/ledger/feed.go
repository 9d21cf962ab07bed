package ledger

import (
	"context"

	"ms-contest/internal/models"
)

// FeedFor returns every entry the session has not been shown, in a fresh random order.
// Nothing about the order is stored.
func (s *Service) FeedFor(ctx context.Context, session string) ([]models.Entry, error) {
	entries, err := s.unseen(ctx, session)
	if err != nil {
		return nil, err
	}
	s.shuffle(entries)
	return entries, nil
}
