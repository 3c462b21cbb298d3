package database

import (
	"context"
	"testing"
	"time"

	"privacyspace/internal/domain"
)

func TestSaveTrackerRecordsUpsertKeepsFirstSeen(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := domain.TrackerRecord{
		Subject:               "evil.example",
		Kind:                  domain.KindDomain,
		Status:                domain.StatusCandidate,
		Version:               1,
		DistinctReporterCount: 1,
		TotalReportCount:      1,
		Method:                domain.MethodCookie,
		FirstSeen:             first,
		LastReportedAt:        first,
	}
	if err := SaveTrackerRecords(ctx, []domain.TrackerRecord{record}); err != nil {
		t.Fatalf("save record: %v", err)
	}

	promoted := first.Add(time.Minute)
	record.Status = domain.StatusConfirmed
	record.Version = 2
	record.DistinctReporterCount = 2
	record.TotalReportCount = 3
	record.FirstSeen = promoted
	record.LastReportedAt = promoted
	record.LastPromotedAt = &promoted
	if err := SaveTrackerRecords(ctx, []domain.TrackerRecord{record}); err != nil {
		t.Fatalf("update record: %v", err)
	}

	records, err := LoadTrackerRecords(ctx)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	got := records[0]
	if got.Status != domain.StatusConfirmed || got.Version != 2 || got.DistinctReporterCount != 2 || got.TotalReportCount != 3 {
		t.Fatalf("unexpected record after upsert: %+v", got)
	}
	if !got.FirstSeen.Equal(first) {
		t.Fatalf("first seen = %s, want %s", got.FirstSeen, first)
	}
	if got.LastPromotedAt == nil || !got.LastPromotedAt.Equal(promoted) {
		t.Fatalf("last promoted = %v, want %s", got.LastPromotedAt, promoted)
	}
}

func TestSaveSightingsIgnoresDuplicates(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	sighting := domain.ReporterSighting{
		ReporterID:      "reporter-a",
		Subject:         "evil.example",
		Kind:            domain.KindDomain,
		FirstReportedAt: now,
	}

	if err := SaveSightings(ctx, []domain.ReporterSighting{sighting}); err != nil {
		t.Fatalf("save sighting: %v", err)
	}
	if err := SaveSightings(ctx, []domain.ReporterSighting{sighting, {
		ReporterID:      "reporter-b",
		Subject:         "evil.example",
		Kind:            domain.KindDomain,
		FirstReportedAt: now,
	}}); err != nil {
		t.Fatalf("save duplicate sighting: %v", err)
	}

	sightings, err := LoadSightings(ctx)
	if err != nil {
		t.Fatalf("load sightings: %v", err)
	}
	if len(sightings) != 2 {
		t.Fatalf("sightings = %d, want 2", len(sightings))
	}
}

func TestDeleteTrackerRecordsRemovesSightings(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []domain.TrackerRecord{
		{Subject: "a.example", Kind: domain.KindDomain, Status: domain.StatusCandidate, Version: 1, FirstSeen: now, LastReportedAt: now},
		{Subject: "b.example", Kind: domain.KindDomain, Status: domain.StatusCandidate, Version: 1, FirstSeen: now, LastReportedAt: now},
	}
	if err := SaveTrackerRecords(ctx, records); err != nil {
		t.Fatalf("save records: %v", err)
	}
	if err := SaveSightings(ctx, []domain.ReporterSighting{
		{ReporterID: "r1", Subject: "a.example", Kind: domain.KindDomain, FirstReportedAt: now},
		{ReporterID: "r1", Subject: "b.example", Kind: domain.KindDomain, FirstReportedAt: now},
	}); err != nil {
		t.Fatalf("save sightings: %v", err)
	}

	removed, err := DeleteTrackerRecords(ctx, []domain.SubjectKey{{Kind: domain.KindDomain, Subject: "a.example"}})
	if err != nil {
		t.Fatalf("delete records: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	left, _ := LoadTrackerRecords(ctx)
	if len(left) != 1 || left[0].Subject != "b.example" {
		t.Fatalf("unexpected remaining records: %+v", left)
	}
	sightings, _ := LoadSightings(ctx)
	if len(sightings) != 1 || sightings[0].Subject != "b.example" {
		t.Fatalf("unexpected remaining sightings: %+v", sightings)
	}
}

func TestStoreWithoutConnection(t *testing.T) {
	DB = nil
	if _, err := LoadTrackerRecords(context.Background()); err == nil {
		t.Fatal("expected error without a configured connection")
	}
	if err := SaveTrackerRecords(context.Background(), nil); err != nil {
		t.Fatalf("empty save should be a no-op, got %v", err)
	}
}
