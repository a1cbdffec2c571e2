package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spendscan/spendscan/internal/matching"
)

// StoreService implements store rename and duplicate-store merging. Merging is
// the one place identity collapses irreversibly, so everything runs inside a
// single transaction.
type StoreService struct {
	repo   Repository
	logger *slog.Logger
	titled cases.Caser
}

// NewStoreService wires the service over the catalog repository.
func NewStoreService(repo Repository, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{repo: repo, logger: logger, titled: cases.Title(language.Und)}
}

// RenameOrMerge renames a store, or merges it into the store that already owns
// the new normalized name. On merge: receipts and locations are reassigned to
// the survivor, a missing chain label is copied over, both old names become
// aliases of the survivor and the losing row is deleted. A concurrent
// operation on the same pair surfaces as ErrMergeConflict.
func (s *StoreService) RenameOrMerge(ctx context.Context, storeID uuid.UUID, newName string) (Store, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return Store{}, errors.New("catalog: new name is required")
	}
	newNorm := matching.Normalize(newName)

	var result Store
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetStore(ctx, storeID)
		if err != nil {
			return err
		}
		if current.NameNormalized == newNorm {
			result = current // no-op
			return nil
		}

		target, err := tx.FindStoreByNormalizedName(ctx, newNorm)
		if err != nil {
			return err
		}

		if target != nil && target.ID != current.ID {
			return s.merge(ctx, tx, current, *target, newNorm, &result)
		}

		// Rename in place, keeping the previous identity as an alias.
		if current.NameNormalized != "" {
			if err := tx.InsertStoreAlias(ctx, current.ID, current.NameNormalized); err != nil {
				return err
			}
		}
		current.Name = s.titled.String(strings.ToLower(newName))
		current.NameNormalized = newNorm
		if err := tx.UpdateStoreName(ctx, current.ID, current.Name, newNorm); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		return Store{}, err
	}
	return result, nil
}

// MergeInto collapses the losing store directly into the survivor. Used by
// the dedup backfill when two stores already share a normalized name, which
// RenameOrMerge would treat as a no-op.
func (s *StoreService) MergeInto(ctx context.Context, losingID, survivingID uuid.UUID) (Store, error) {
	if losingID == survivingID {
		return Store{}, errors.New("catalog: cannot merge a store into itself")
	}
	var result Store
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		losing, err := tx.GetStore(ctx, losingID)
		if err != nil {
			return err
		}
		surviving, err := tx.GetStore(ctx, survivingID)
		if err != nil {
			return err
		}
		return s.merge(ctx, tx, losing, surviving, surviving.NameNormalized, &result)
	})
	if err != nil {
		return Store{}, err
	}
	return result, nil
}

func (s *StoreService) merge(ctx context.Context, tx TxRepository, losing, surviving Store, newNorm string, result *Store) error {
	moved, err := tx.ReassignReceipts(ctx, losing.ID, surviving.ID)
	if err != nil {
		return err
	}
	if err := tx.ReassignLocations(ctx, losing.ID, surviving.ID); err != nil {
		return err
	}
	if (surviving.Chain == nil || strings.TrimSpace(*surviving.Chain) == "") &&
		losing.Chain != nil && strings.TrimSpace(*losing.Chain) != "" {
		if err := tx.SetStoreChain(ctx, surviving.ID, *losing.Chain); err != nil {
			return err
		}
		surviving.Chain = losing.Chain
	}
	if losing.NameNormalized != "" {
		if err := tx.InsertStoreAlias(ctx, surviving.ID, losing.NameNormalized); err != nil {
			return err
		}
	}
	if err := tx.InsertStoreAlias(ctx, surviving.ID, newNorm); err != nil {
		return err
	}
	if err := tx.DeleteStore(ctx, losing.ID); err != nil {
		return err
	}
	s.logger.Info("stores merged",
		slog.String("losing", losing.ID.String()),
		slog.String("surviving", surviving.ID.String()),
		slog.Int64("receipts_moved", moved))
	*result = surviving
	return nil
}
