// Package registry is the aggregator's tracker registry: it validates and
// deduplicates reports, promotes candidates and emits one Update per status
// transition.
package registry

import (
	"context"
	"sync"
	"time"

	"privacyspace/internal/config"
	"privacyspace/internal/database"
	"privacyspace/internal/domain"
	"privacyspace/internal/ratelimit"
	"privacyspace/internal/support"

	"github.com/charmbracelet/log"
)

const (
	shardCount          = 64
	maxReporterIDLength = 128

	DefaultCorroborationThreshold = 2
	DefaultMaxClockSkew           = 5 * time.Minute
)

type Store interface {
	SaveRecords(ctx context.Context, records []domain.TrackerRecord) error
	SaveSightings(ctx context.Context, sightings []domain.ReporterSighting) error
	LoadRecords(ctx context.Context) ([]domain.TrackerRecord, error)
	LoadSightings(ctx context.Context) ([]domain.ReporterSighting, error)
	DeleteRecords(ctx context.Context, keys []domain.SubjectKey) error
}

// Publisher receives every status transition. Publish must not block.
type Publisher interface {
	Publish(update domain.Update)
}

// Attributor names the company behind a subject, or "".
type Attributor interface {
	Company(subject string, kind domain.SubjectKind) string
}

// Policy is read on every report so settings changes apply immediately.
type Policy struct {
	CorroborationThreshold int64
	PatternPromotion       bool
	MaxClockSkew           time.Duration
}

type Options struct {
	Policy          func() Policy
	TrackerPatterns func() *config.PatternSet
	Limiter         ratelimit.Limiter
	Store           Store
	Publisher       Publisher
	Attributor      Attributor
	Now             func() time.Time
}

type Registry struct {
	shards [shardCount]*shard

	policy     func() Policy
	patterns   func() *config.PatternSet
	limiter    ratelimit.Limiter
	store      Store
	publisher  Publisher
	attributor Attributor
	now        func() time.Time

	recordWriter   *database.AsyncWriter[domain.TrackerRecord]
	sightingWriter *database.AsyncWriter[domain.ReporterSighting]
}

type shard struct {
	mu        sync.Mutex
	records   map[domain.SubjectKey]*domain.TrackerRecord
	reporters map[domain.SubjectKey]map[string]struct{}
}

func newShard() *shard {
	return &shard{
		records:   make(map[domain.SubjectKey]*domain.TrackerRecord),
		reporters: make(map[domain.SubjectKey]map[string]struct{}),
	}
}

// DefaultPolicy is the static policy used when Options.Policy is nil.
func DefaultPolicy() Policy {
	return Policy{
		CorroborationThreshold: DefaultCorroborationThreshold,
		PatternPromotion:       true,
		MaxClockSkew:           DefaultMaxClockSkew,
	}
}

// PolicyFromConfig reads the live aggregator settings.
func PolicyFromConfig() Policy {
	cfg := config.GetConfig().Aggregator
	policy := Policy{
		CorroborationThreshold: int64(cfg.CorroborationThreshold),
		PatternPromotion:       cfg.PatternPromotion,
		MaxClockSkew:           time.Duration(cfg.MaxClockSkewSeconds) * time.Second,
	}
	if policy.CorroborationThreshold <= 0 {
		policy.CorroborationThreshold = DefaultCorroborationThreshold
	}
	if policy.MaxClockSkew <= 0 {
		policy.MaxClockSkew = DefaultMaxClockSkew
	}
	return policy
}

func New(opts Options) *Registry {
	r := &Registry{
		policy:     opts.Policy,
		patterns:   opts.TrackerPatterns,
		limiter:    opts.Limiter,
		store:      opts.Store,
		publisher:  opts.Publisher,
		attributor: opts.Attributor,
		now:        opts.Now,
	}
	if r.policy == nil {
		r.policy = DefaultPolicy
	}
	if r.patterns == nil {
		r.patterns = func() *config.PatternSet { return nil }
	}
	if r.now == nil {
		r.now = time.Now
	}
	for i := range r.shards {
		r.shards[i] = newShard()
	}

	if opts.Store != nil {
		r.recordWriter = database.NewAsyncWriter("tracker_records", func(rec domain.TrackerRecord) string {
			return rec.Key().String()
		}, opts.Store.SaveRecords)
		r.sightingWriter = database.NewAsyncWriter("reporter_sightings", func(s domain.ReporterSighting) string {
			return s.ReporterID + "|" + s.Key().String()
		}, opts.Store.SaveSightings)
	}

	return r
}

func shardIndex(key domain.SubjectKey) int {
	return support.ShardIndex(key.String(), shardCount)
}

func (r *Registry) shardFor(key domain.SubjectKey) *shard {
	return r.shards[shardIndex(key)]
}

// SubmitReport validates, rate limits and merges one report. A nil error
// means the report was accepted.
func (r *Registry) SubmitReport(ctx context.Context, report domain.Report) error {
	now := r.now()
	policy := r.policy()

	if err := validateReport(report, now, policy.MaxClockSkew); err != nil {
		return err
	}

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, report.ReporterID, now)
		if err != nil {
			log.Warn("Rate limiter unavailable, accepting report", "error", err)
		} else if !allowed {
			return &domain.RateLimitError{
				ReporterID: report.ReporterID,
				Limit:      r.limiter.Limit(),
				Window:     r.limiter.Window(),
			}
		}
	}

	key := report.Key()
	s := r.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, created := s.getOrCreate(key, report.Method, now, r.companyOf(key))
	if created {
		log.Debug("New candidate", "subject", key.Subject, "kind", key.Kind)
	}

	seen := s.reporters[key]
	if seen == nil {
		seen = make(map[string]struct{})
		s.reporters[key] = seen
	}
	if _, dup := seen[report.ReporterID]; !dup {
		seen[report.ReporterID] = struct{}{}
		rec.DistinctReporterCount++
		r.persistSighting(domain.ReporterSighting{
			ReporterID:      report.ReporterID,
			Subject:         key.Subject,
			Kind:            key.Kind,
			FirstReportedAt: now,
		})
	}
	rec.TotalReportCount++
	rec.LastReportedAt = now

	if rec.Status == domain.StatusCandidate && r.shouldPromote(rec, policy) {
		r.transition(rec, domain.StatusConfirmed, now)
		log.Info("Tracker confirmed", "subject", rec.Subject, "kind", rec.Kind, "reporters", rec.DistinctReporterCount, "version", rec.Version)
	}

	r.persistRecord(*rec)
	return nil
}

// Whitelist is an administrative override. The record is created when the
// subject was never reported. Whitelisting twice is a no-op.
func (r *Registry) Whitelist(_ context.Context, subject string, kind domain.SubjectKind) (domain.TrackerRecord, error) {
	if err := domain.ValidateSubject(subject, kind); err != nil {
		return domain.TrackerRecord{}, err
	}

	now := r.now()
	key := domain.SubjectKey{Kind: kind, Subject: subject}
	s := r.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _ := s.getOrCreate(key, "", now, r.companyOf(key))
	if rec.Status != domain.StatusWhitelisted {
		r.transition(rec, domain.StatusWhitelisted, now)
		log.Info("Tracker whitelisted", "subject", rec.Subject, "kind", rec.Kind, "version", rec.Version)
	}

	r.persistRecord(*rec)
	return *rec, nil
}

func (r *Registry) shouldPromote(rec *domain.TrackerRecord, policy Policy) bool {
	if policy.CorroborationThreshold > 0 && rec.DistinctReporterCount >= policy.CorroborationThreshold {
		return true
	}
	return policy.PatternPromotion && r.patterns().Match(rec.Subject)
}

// transition must be called with the shard lock held. Publishing under the
// lock keeps per-subject updates in version order.
func (r *Registry) transition(rec *domain.TrackerRecord, to domain.TrackerStatus, now time.Time) {
	if !domain.CanTransition(rec.Status, to) {
		return
	}
	rec.Status = to
	rec.Version++
	if to == domain.StatusConfirmed {
		promoted := now
		rec.LastPromotedAt = &promoted
	}
	if r.publisher != nil {
		r.publisher.Publish(rec.Update())
	}
}

// getOrCreate only calls company for a new record.
func (s *shard) getOrCreate(key domain.SubjectKey, method domain.Method, now time.Time, company func() string) (*domain.TrackerRecord, bool) {
	if rec, ok := s.records[key]; ok {
		return rec, false
	}
	rec := &domain.TrackerRecord{
		Subject:        key.Subject,
		Kind:           key.Kind,
		Status:         domain.StatusCandidate,
		Version:        1,
		Method:         method,
		Company:        company(),
		FirstSeen:      now,
		LastReportedAt: now,
	}
	s.records[key] = rec
	return rec, true
}

func (r *Registry) companyOf(key domain.SubjectKey) func() string {
	return func() string {
		if r.attributor == nil {
			return ""
		}
		return r.attributor.Company(key.Subject, key.Kind)
	}
}

func (r *Registry) persistRecord(rec domain.TrackerRecord) {
	if r.recordWriter != nil {
		r.recordWriter.Enqueue(rec)
	}
}

func (r *Registry) persistSighting(s domain.ReporterSighting) {
	if r.sightingWriter != nil {
		r.sightingWriter.Enqueue(s)
	}
}

// Close flushes pending writes.
func (r *Registry) Close(ctx context.Context) error {
	if r.sightingWriter != nil {
		if err := r.sightingWriter.Close(ctx); err != nil {
			return err
		}
	}
	if r.recordWriter != nil {
		return r.recordWriter.Close(ctx)
	}
	return nil
}
