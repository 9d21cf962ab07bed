package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-contest/internal/models"
)

// CreateEntries creates one entry per image reference, all sharing name. An empty name
// falls back to the configured default.
func (s *Service) CreateEntries(ctx context.Context, name string, imageRefs []string) ([]models.Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.opts.DefaultName
	}
	if len(name) > s.opts.MaxNameLength {
		return nil, &models.ValidationError{Field: "name", Reason: fmt.Sprintf("exceeds %d bytes", s.opts.MaxNameLength)}
	}
	if len(imageRefs) == 0 {
		return nil, &models.ValidationError{Field: "image_refs", Reason: "at least one image is required"}
	}
	if len(imageRefs) > s.opts.MaxBatch {
		return nil, &models.ValidationError{Field: "image_refs", Reason: fmt.Sprintf("at most %d images per request", s.opts.MaxBatch)}
	}

	refs := make([]string, len(imageRefs))
	for i, ref := range imageRefs {
		refs[i] = strings.TrimSpace(ref)
		if refs[i] == "" {
			return nil, &models.ValidationError{Field: "image_refs", Reason: fmt.Sprintf("item %d is empty", i)}
		}
	}

	entries, err := s.DB.CreateEntries(context.WithoutCancel(ctx), name, refs)
	if err != nil {
		s.Logger.Error("ENTRY", fmt.Sprintf("Create %d entries failed: %v", len(refs), err))
		return nil, &models.StorageError{Op: "create", Err: err}
	}

	for _, entry := range entries {
		s.Logger.LogEntry("created", entry.ID, entry.ImageRef)
		s.committed(ctx, models.EventEntryCreated, entry.ID)
	}
	return entries, nil
}

func (s *Service) CreateEntry(ctx context.Context, name, imageRef string) (*models.Entry, error) {
	entries, err := s.CreateEntries(ctx, name, []string{imageRef})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Service) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	if err := validateEntryID(id); err != nil {
		return nil, err
	}
	entry, err := s.DB.GetEntry(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("entry %d: %w", id, models.ErrNotFound)
		}
		return nil, &models.StorageError{Op: "get", Err: err}
	}
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, order models.EntryOrder) ([]models.Entry, error) {
	entries, err := s.DB.ListEntries(ctx, order)
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	return entries, nil
}

// DeleteEntry removes an entry with its votes and exposures. The entry key is held
// exclusively so no vote or exposure for it can land mid-cascade.
func (s *Service) DeleteEntry(ctx context.Context, id int64) error {
	if err := validateEntryID(id); err != nil {
		return err
	}

	err := s.withEntryLock(ctx, "delete", id, true, func(ctx context.Context) error {
		return s.DB.DeleteEntry(ctx, id)
	})
	if err != nil {
		var storageErr *models.StorageError
		switch {
		case errors.As(err, &storageErr):
			return err
		case errors.Is(err, models.ErrNotFound):
			return fmt.Errorf("entry %d: %w", id, models.ErrNotFound)
		default:
			s.Logger.Error("ENTRY", fmt.Sprintf("Delete entry %d failed: %v", id, err))
			return &models.StorageError{Op: "delete", Err: err}
		}
	}

	s.Logger.LogEntry("deleted", id, "votes and exposures removed")
	s.committed(ctx, models.EventEntryDeleted, id)
	return nil
}
