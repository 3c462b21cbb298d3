package database

import (
	"context"
	"fmt"

	"privacyspace/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var counterEntryUpdateColumns = []string{
	"state",
	"hit_count",
	"last_seen",
	"locally_blocked",
	"block_source",
	"whitelisted",
	"reported",
}

func SaveCounterEntries(ctx context.Context, entries []domain.LocalCounterEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := conn(ctx)
	if err != nil {
		return err
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns(counterEntryUpdateColumns),
	}).CreateInBatches(&entries, batchSize).Error
	if err != nil {
		return fmt.Errorf("counter entries: upsert: %w", err)
	}
	return nil
}

func LoadCounterEntries(ctx context.Context) ([]domain.LocalCounterEntry, error) {
	tx, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	var entries []domain.LocalCounterEntry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("counter entries: load: %w", err)
	}
	return entries, nil
}

func DeleteCounterEntries(ctx context.Context, keys []domain.SubjectKey) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := conn(ctx)
	if err != nil {
		return err
	}

	return tx.Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if err := tx.Where("subject = ? AND kind = ?", key.Subject, key.Kind).
				Delete(&domain.LocalCounterEntry{}).Error; err != nil {
				return fmt.Errorf("counter entries: delete: %w", err)
			}
		}
		return nil
	})
}

// CounterStore exposes the package functions as the verdict engine's
// persistence.
type CounterStore struct{}

func (CounterStore) SaveEntries(ctx context.Context, entries []domain.LocalCounterEntry) error {
	return SaveCounterEntries(ctx, entries)
}

func (CounterStore) LoadEntries(ctx context.Context) ([]domain.LocalCounterEntry, error) {
	return LoadCounterEntries(ctx)
}

func (CounterStore) DeleteEntries(ctx context.Context, keys []domain.SubjectKey) error {
	return DeleteCounterEntries(ctx, keys)
}
