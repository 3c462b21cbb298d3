package database

import (
	"context"
	"fmt"

	"privacyspace/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 200

var trackerRecordUpdateColumns = []string{
	"status",
	"version",
	"distinct_reporter_count",
	"total_report_count",
	"method",
	"company",
	"last_reported_at",
	"last_promoted_at",
	"updated_at",
}

func conn(ctx context.Context) (*gorm.DB, error) {
	if DB == nil {
		return nil, fmt.Errorf("database: connection was not configured")
	}
	if ctx == nil {
		return DB, nil
	}
	return DB.WithContext(ctx), nil
}

// SaveTrackerRecords upserts records by (subject, kind). first_seen is never
// overwritten.
func SaveTrackerRecords(ctx context.Context, records []domain.TrackerRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := conn(ctx)
	if err != nil {
		return err
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns(trackerRecordUpdateColumns),
	}).CreateInBatches(&records, batchSize).Error
	if err != nil {
		return fmt.Errorf("tracker records: upsert: %w", err)
	}
	return nil
}

// SaveSightings inserts reporter sightings, ignoring ones already stored.
func SaveSightings(ctx context.Context, sightings []domain.ReporterSighting) error {
	if len(sightings) == 0 {
		return nil
	}
	tx, err := conn(ctx)
	if err != nil {
		return err
	}

	err = tx.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&sightings, batchSize).Error
	if err != nil {
		return fmt.Errorf("reporter sightings: insert: %w", err)
	}
	return nil
}

func LoadTrackerRecords(ctx context.Context) ([]domain.TrackerRecord, error) {
	tx, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.TrackerRecord
	if err := tx.Order("kind ASC, subject ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("tracker records: load: %w", err)
	}
	return records, nil
}

func LoadSightings(ctx context.Context) ([]domain.ReporterSighting, error) {
	tx, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	var sightings []domain.ReporterSighting
	if err := tx.Find(&sightings).Error; err != nil {
		return nil, fmt.Errorf("reporter sightings: load: %w", err)
	}
	return sightings, nil
}

// DeleteTrackerRecords removes records and their sightings.
func DeleteTrackerRecords(ctx context.Context, keys []domain.SubjectKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tx, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64
	err = tx.Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if err := tx.Where("subject = ? AND kind = ?", key.Subject, key.Kind).
				Delete(&domain.ReporterSighting{}).Error; err != nil {
				return err
			}
			res := tx.Where("subject = ? AND kind = ?", key.Subject, key.Kind).
				Delete(&domain.TrackerRecord{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tracker records: delete: %w", err)
	}
	return removed, nil
}

// TrackerStore exposes the package functions as the registry's persistence.
type TrackerStore struct{}

func (TrackerStore) SaveRecords(ctx context.Context, records []domain.TrackerRecord) error {
	return SaveTrackerRecords(ctx, records)
}

func (TrackerStore) SaveSightings(ctx context.Context, sightings []domain.ReporterSighting) error {
	return SaveSightings(ctx, sightings)
}

func (TrackerStore) LoadRecords(ctx context.Context) ([]domain.TrackerRecord, error) {
	return LoadTrackerRecords(ctx)
}

func (TrackerStore) LoadSightings(ctx context.Context) ([]domain.ReporterSighting, error) {
	return LoadSightings(ctx)
}

func (TrackerStore) DeleteRecords(ctx context.Context, keys []domain.SubjectKey) error {
	_, err := DeleteTrackerRecords(ctx, keys)
	return err
}
