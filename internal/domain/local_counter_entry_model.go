package domain

import "time"

type LocalState string

const (
	LocalUnknown     LocalState = "unknown"
	LocalCandidate   LocalState = "candidate"
	LocalBlocked     LocalState = "blocked"
	LocalWhitelisted LocalState = "whitelisted"
)

const (
	BlockSourceThreshold = "threshold"
	BlockSourceNetwork   = "network"
)

// LocalCounterEntry is a client's private view of one subject. It never leaves
// the client.
type LocalCounterEntry struct {
	Subject string      `gorm:"primaryKey;size:255" json:"subject"`
	Kind    SubjectKind `gorm:"primaryKey;size:8" json:"kind"`

	State    LocalState `gorm:"size:16;not null" json:"state"`
	HitCount int64      `gorm:"not null;default:0" json:"hit_count"`

	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time `gorm:"not null" json:"last_seen"`

	LocallyBlocked bool   `gorm:"not null;default:false;index" json:"locally_blocked"`
	BlockSource    string `gorm:"size:16;not null;default:''" json:"block_source,omitempty"`
	Whitelisted    bool   `gorm:"not null;default:false" json:"whitelisted"`

	// Reported is set once the single outbound report for this subject was emitted.
	Reported bool `gorm:"not null;default:false" json:"reported"`
}

func (e LocalCounterEntry) Key() SubjectKey {
	return SubjectKey{Kind: e.Kind, Subject: e.Subject}
}
