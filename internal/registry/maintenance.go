package registry

import (
	"context"
	"fmt"
	"time"

	"privacyspace/internal/domain"

	"github.com/charmbracelet/log"
)

// Load replaces the registry contents. Sightings for unknown records are
// ignored.
func (r *Registry) Load(records []domain.TrackerRecord, sightings []domain.ReporterSighting) {
	fresh := make([]*shard, shardCount)
	for i := range fresh {
		fresh[i] = newShard()
	}

	for i := range records {
		rec := records[i]
		key := rec.Key()
		fresh[shardIndex(key)].records[key] = &rec
	}
	for _, sighting := range sightings {
		key := sighting.Key()
		s := fresh[shardIndex(key)]
		if _, ok := s.records[key]; !ok {
			continue
		}
		seen := s.reporters[key]
		if seen == nil {
			seen = make(map[string]struct{})
			s.reporters[key] = seen
		}
		seen[sighting.ReporterID] = struct{}{}
	}

	for i, s := range r.shards {
		s.mu.Lock()
		s.records = fresh[i].records
		s.reporters = fresh[i].reporters
		s.mu.Unlock()
	}
}

// LoadFromStore warms the registry from persistent storage.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	records, err := r.store.LoadRecords(ctx)
	if err != nil {
		return fmt.Errorf("registry: load records: %w", err)
	}
	sightings, err := r.store.LoadSightings(ctx)
	if err != nil {
		return fmt.Errorf("registry: load sightings: %w", err)
	}

	r.Load(records, sightings)
	log.Info("Tracker registry loaded", "records", len(records), "sightings", len(sightings))
	return nil
}

// ExpireCandidates drops candidates that were last reported before cutoff.
// Confirmed and whitelisted records are never expired.
func (r *Registry) ExpireCandidates(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []domain.SubjectKey

	for _, s := range r.shards {
		s.mu.Lock()
		for key, rec := range s.records {
			if rec.Status != domain.StatusCandidate || !rec.LastReportedAt.Before(cutoff) {
				continue
			}
			delete(s.records, key)
			delete(s.reporters, key)
			expired = append(expired, key)
		}
		s.mu.Unlock()
	}

	if len(expired) == 0 || r.store == nil {
		return len(expired), nil
	}

	if err := r.store.DeleteRecords(ctx, expired); err != nil {
		return len(expired), &domain.TransientStorageError{Op: "expire candidates", Err: err}
	}
	return len(expired), nil
}
