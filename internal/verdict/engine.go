// Package verdict holds the client's local per-subject state machine and
// decides whether a single request is allowed.
package verdict

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"privacyspace/internal/database"
	"privacyspace/internal/domain"

	"github.com/charmbracelet/log"
)

// ReportSink accepts outbound reports without blocking.
type ReportSink interface {
	Submit(report domain.Report) bool
}

// Store persists counter entries.
type Store interface {
	SaveEntries(ctx context.Context, entries []domain.LocalCounterEntry) error
	LoadEntries(ctx context.Context) ([]domain.LocalCounterEntry, error)
	DeleteEntries(ctx context.Context, keys []domain.SubjectKey) error
}

// SharedSnapshot answers whether the network confirmed a subject or one of
// its parent domains.
type SharedSnapshot interface {
	Lookup(subject string, kind domain.SubjectKind) (domain.TrackerStatus, bool)
}

type Options struct {
	// Threshold is the hit count that blocks a subject locally. Zero
	// disables threshold blocking.
	Threshold        int64
	CountConnections bool
	ReporterID       string

	Store    Store
	Sink     ReportSink
	Snapshot SharedSnapshot
	Now      func() time.Time
}

type Engine struct {
	mu      sync.Mutex
	entries map[domain.SubjectKey]*domain.LocalCounterEntry

	threshold        int64
	countConnections bool
	reporterID       string

	sink     ReportSink
	snapshot SharedSnapshot
	store    Store
	writer   *database.AsyncWriter[persistOp]
	now      func() time.Time
}

type persistOp struct {
	entry  domain.LocalCounterEntry
	delete bool
}

func NewEngine(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		entries:          make(map[domain.SubjectKey]*domain.LocalCounterEntry),
		threshold:        opts.Threshold,
		countConnections: opts.CountConnections,
		reporterID:       opts.ReporterID,
		sink:             opts.Sink,
		snapshot:         opts.Snapshot,
		store:            opts.Store,
		now:              now,
	}

	if opts.Store != nil {
		e.writer = database.NewAsyncWriter("counter_entries", func(op persistOp) string {
			return op.entry.Key().String()
		}, e.flush)
	}

	return e
}

// Load replaces in-memory state with what the store holds.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	entries, err := e.store.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("verdict: load counter entries: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries = make(map[domain.SubjectKey]*domain.LocalCounterEntry, len(entries))
	for i := range entries {
		entry := entries[i]
		e.entries[entry.Key()] = &entry
	}

	log.Info("Loaded local counter entries", "count", len(entries))
	return nil
}

// Evaluate records obs and returns the verdict for the request it came from.
// It never waits on storage or the network.
func (e *Engine) Evaluate(obs domain.Observation) domain.Verdict {
	key := obs.Key()
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = e.now()
	}

	var report *domain.Report

	e.mu.Lock()
	entry, exists := e.entries[key]
	if !exists {
		entry = &domain.LocalCounterEntry{
			Subject:   obs.Subject,
			Kind:      obs.Kind,
			State:     domain.LocalCandidate,
			FirstSeen: observedAt,
		}
		e.entries[key] = entry
	}

	if entry.Whitelisted {
		e.mu.Unlock()
		return domain.VerdictAllow
	}

	entry.LastSeen = observedAt
	if obs.Method != domain.MethodConnection || e.countConnections {
		entry.HitCount++
	}

	if !entry.LocallyBlocked && e.threshold > 0 && entry.HitCount >= e.threshold {
		entry.LocallyBlocked = true
		entry.BlockSource = domain.BlockSourceThreshold
		entry.State = domain.LocalBlocked
		log.Info("Subject blocked locally", "subject", entry.Subject, "kind", entry.Kind, "hits", entry.HitCount)
	}

	if !entry.Reported && obs.Method.Evidence() {
		entry.Reported = true
		report = &domain.Report{
			Subject:          obs.Subject,
			Kind:             obs.Kind,
			Method:           obs.Method,
			ReporterID:       e.reporterID,
			ClientObservedAt: observedAt,
		}
	}

	blocked := entry.LocallyBlocked
	e.persist(*entry)
	e.mu.Unlock()

	if report != nil && e.sink != nil {
		if !e.sink.Submit(*report) {
			log.Debug("Report dropped by sink", "subject", report.Subject)
		}
	}

	switch {
	case blocked:
		return domain.VerdictBlock
	case obs.Method == domain.MethodPattern:
		return domain.VerdictBlock
	case e.confirmedByNetwork(obs.Subject, obs.Kind):
		return domain.VerdictBlock
	default:
		return domain.VerdictAllow
	}
}

// Peek returns the verdict for a subject without recording a hit. It covers
// requests that carry no tracking evidence of their own.
func (e *Engine) Peek(subject string, kind domain.SubjectKind) domain.Verdict {
	e.mu.Lock()
	entry, ok := e.entries[domain.SubjectKey{Kind: kind, Subject: subject}]
	var whitelisted, blocked bool
	if ok {
		whitelisted = entry.Whitelisted
		blocked = entry.LocallyBlocked
	}
	e.mu.Unlock()

	switch {
	case whitelisted:
		return domain.VerdictAllow
	case blocked:
		return domain.VerdictBlock
	case e.confirmedByNetwork(subject, kind):
		return domain.VerdictBlock
	default:
		return domain.VerdictAllow
	}
}

func (e *Engine) confirmedByNetwork(subject string, kind domain.SubjectKind) bool {
	if e.snapshot == nil {
		return false
	}
	status, ok := e.snapshot.Lookup(subject, kind)
	return ok && status == domain.StatusConfirmed
}

// ApplyUpdate folds a network status change into local state. Confirmed
// blocks a tracked subject. Whitelisted or candidate lifts a block the
// network caused.
func (e *Engine) ApplyUpdate(update domain.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[update.Key()]
	if !ok || entry.Whitelisted {
		return
	}

	switch update.Status {
	case domain.StatusConfirmed:
		if entry.LocallyBlocked {
			return
		}
		entry.LocallyBlocked = true
		entry.BlockSource = domain.BlockSourceNetwork
		entry.State = domain.LocalBlocked
	case domain.StatusWhitelisted, domain.StatusCandidate:
		if !entry.LocallyBlocked || entry.BlockSource != domain.BlockSourceNetwork {
			return
		}
		entry.LocallyBlocked = false
		entry.BlockSource = ""
		entry.State = domain.LocalCandidate
	default:
		return
	}

	e.persist(*entry)
}

// Whitelist makes every future verdict for the subject allow.
func (e *Engine) Whitelist(subject string, kind domain.SubjectKind) error {
	if err := domain.ValidateSubject(subject, kind); err != nil {
		return err
	}

	key := domain.SubjectKey{Kind: kind, Subject: subject}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[key]
	if !ok {
		entry = &domain.LocalCounterEntry{
			Subject:   subject,
			Kind:      kind,
			FirstSeen: now,
			LastSeen:  now,
		}
		e.entries[key] = entry
	}

	entry.State = domain.LocalWhitelisted
	entry.Whitelisted = true
	entry.LocallyBlocked = false
	entry.BlockSource = ""

	e.persist(*entry)
	return nil
}

// Unwhitelist forgets the subject entirely; it starts over as unknown.
func (e *Engine) Unwhitelist(subject string, kind domain.SubjectKind) bool {
	key := domain.SubjectKey{Kind: kind, Subject: subject}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[key]
	if !ok || !entry.Whitelisted {
		return false
	}

	delete(e.entries, key)
	e.persistDelete(*entry)
	return true
}

// Entry returns a copy of the subject's state. A missing entry is unknown.
func (e *Engine) Entry(subject string, kind domain.SubjectKind) (domain.LocalCounterEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[domain.SubjectKey{Kind: kind, Subject: subject}]
	if !ok {
		return domain.LocalCounterEntry{Subject: subject, Kind: kind, State: domain.LocalUnknown}, false
	}
	return *entry, true
}

// Entries lists all entries ordered by kind and subject.
func (e *Engine) Entries() []domain.LocalCounterEntry {
	e.mu.Lock()
	out := make([]domain.LocalCounterEntry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, *entry)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

type Stats struct {
	Candidates  int `json:"candidates"`
	Blocked     int `json:"blocked"`
	Whitelisted int `json:"whitelisted"`
	Reported    int `json:"reported"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var s Stats
	for _, entry := range e.entries {
		switch entry.State {
		case domain.LocalCandidate:
			s.Candidates++
		case domain.LocalBlocked:
			s.Blocked++
		case domain.LocalWhitelisted:
			s.Whitelisted++
		}
		if entry.Reported {
			s.Reported++
		}
	}
	return s
}

// Close flushes pending writes.
func (e *Engine) Close(ctx context.Context) error {
	if e.writer == nil {
		return nil
	}
	return e.writer.Close(ctx)
}

func (e *Engine) persist(entry domain.LocalCounterEntry) {
	if e.writer == nil {
		return
	}
	e.writer.Enqueue(persistOp{entry: entry})
}

func (e *Engine) persistDelete(entry domain.LocalCounterEntry) {
	if e.writer == nil {
		return
	}
	e.writer.Enqueue(persistOp{entry: entry, delete: true})
}

func (e *Engine) flush(ctx context.Context, ops []persistOp) error {
	var saves []domain.LocalCounterEntry
	var deletes []domain.SubjectKey
	for _, op := range ops {
		if op.delete {
			deletes = append(deletes, op.entry.Key())
			continue
		}
		saves = append(saves, op.entry)
	}

	if err := e.store.DeleteEntries(ctx, deletes); err != nil {
		return err
	}
	return e.store.SaveEntries(ctx, saves)
}
