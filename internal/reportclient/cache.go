package reportclient

import (
	"sync"

	"privacyspace/internal/domain"
)

type cachedStatus struct {
	status  domain.TrackerStatus
	version uint64
}

// Cache is the client's copy of the shared registry. Applying the same
// update twice, or an older one, changes nothing.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.SubjectKey]cachedStatus
}

func NewCache() *Cache {
	return &Cache{entries: make(map[domain.SubjectKey]cachedStatus)}
}

// Apply stores update if it is newer than what the cache holds. An older or
// equal version returns *domain.StaleUpdateError, which callers ignore.
func (c *Cache) Apply(update domain.Update) error {
	key := update.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries[key]; ok && current.version >= update.Version {
		return &domain.StaleUpdateError{Subject: update.Subject, Current: current.version, Received: update.Version}
	}
	c.entries[key] = cachedStatus{status: update.Status, version: update.Version}
	return nil
}

// Replace swaps the cache for a full snapshot. changed lists the snapshot
// entries that differ from what the cache held. removed lists cached subjects
// the snapshot no longer carries, with their last known status. A cached
// entry survives only when the snapshot has the same subject at an older
// version.
func (c *Cache) Replace(records []domain.TrackerRecord) (changed, removed []domain.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[domain.SubjectKey]cachedStatus, len(records))
	for _, rec := range records {
		key := rec.Key()
		if current, ok := c.entries[key]; ok && current.version >= rec.Version {
			next[key] = current
			continue
		}
		next[key] = cachedStatus{status: rec.Status, version: rec.Version}
		changed = append(changed, rec.Update())
	}

	for key, current := range c.entries {
		if _, ok := next[key]; !ok {
			removed = append(removed, domain.Update{Subject: key.Subject, Kind: key.Kind, Status: current.status, Version: current.version})
		}
	}

	c.entries = next
	return changed, removed
}

// Lookup returns the status of subject or, for domains, of the closest
// parent domain the cache knows.
func (c *Cache) Lookup(subject string, kind domain.SubjectKind) (domain.TrackerStatus, bool) {
	candidates := []string{subject}
	if kind == domain.KindDomain {
		candidates = domain.ParentDomains(subject)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, candidate := range candidates {
		if entry, ok := c.entries[domain.SubjectKey{Kind: kind, Subject: candidate}]; ok {
			return entry.status, true
		}
	}
	return "", false
}

func (c *Cache) Version(subject string, kind domain.SubjectKind) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[domain.SubjectKey{Kind: kind, Subject: subject}].version
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
