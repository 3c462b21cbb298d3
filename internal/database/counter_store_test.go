package database

import (
	"context"
	"testing"
	"time"

	"privacyspace/internal/domain"
)

func TestCounterEntriesRoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	store := CounterStore{}
	now := time.Now().UTC()

	entry := domain.LocalCounterEntry{
		Subject:   "tracker.example",
		Kind:      domain.KindDomain,
		State:     domain.LocalCandidate,
		HitCount:  1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if err := store.SaveEntries(ctx, []domain.LocalCounterEntry{entry}); err != nil {
		t.Fatalf("save entry: %v", err)
	}

	entry.State = domain.LocalBlocked
	entry.HitCount = 3
	entry.LocallyBlocked = true
	entry.BlockSource = domain.BlockSourceThreshold
	entry.Reported = true
	if err := store.SaveEntries(ctx, []domain.LocalCounterEntry{entry}); err != nil {
		t.Fatalf("update entry: %v", err)
	}

	entries, err := store.LoadEntries(ctx)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.HitCount != 3 || !got.LocallyBlocked || got.BlockSource != domain.BlockSourceThreshold || !got.Reported {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if err := store.DeleteEntries(ctx, []domain.SubjectKey{entry.Key()}); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	entries, _ = store.LoadEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("entries after delete = %d, want 0", len(entries))
	}
}
