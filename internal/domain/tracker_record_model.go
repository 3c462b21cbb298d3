package domain

import "time"

type TrackerStatus string

const (
	StatusCandidate   TrackerStatus = "candidate"
	StatusConfirmed   TrackerStatus = "confirmed"
	StatusWhitelisted TrackerStatus = "whitelisted"
)

func (s TrackerStatus) Valid() bool {
	switch s {
	case StatusCandidate, StatusConfirmed, StatusWhitelisted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record may move from one status to another.
// Only candidate -> confirmed and candidate|confirmed -> whitelisted are allowed.
func CanTransition(from, to TrackerStatus) bool {
	switch to {
	case StatusConfirmed:
		return from == StatusCandidate
	case StatusWhitelisted:
		return from == StatusCandidate || from == StatusConfirmed
	default:
		return false
	}
}

// TrackerRecord is the aggregator's authoritative state for one subject.
type TrackerRecord struct {
	Subject string      `gorm:"primaryKey;size:255" json:"subject"`
	Kind    SubjectKind `gorm:"primaryKey;size:8" json:"kind"`

	Status  TrackerStatus `gorm:"size:16;not null;index" json:"status"`
	Version uint64        `gorm:"not null;default:0" json:"version"`

	DistinctReporterCount int64 `gorm:"not null;default:0;index" json:"distinct_reporter_count"`
	TotalReportCount      int64 `gorm:"not null;default:0" json:"total_report_count"`

	// Method is the method of the first accepted report.
	Method  Method `gorm:"size:16;not null;default:''" json:"method"`
	Company string `gorm:"size:64;not null;default:''" json:"company,omitempty"`

	FirstSeen      time.Time  `gorm:"not null" json:"first_seen"`
	LastReportedAt time.Time  `gorm:"not null;index" json:"last_reported_at"`
	LastPromotedAt *time.Time `json:"last_promoted_at,omitempty"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"-"`
}

func (r TrackerRecord) Key() SubjectKey {
	return SubjectKey{Kind: r.Kind, Subject: r.Subject}
}

func (r TrackerRecord) Update() Update {
	return Update{
		Subject: r.Subject,
		Kind:    r.Kind,
		Status:  r.Status,
		Version: r.Version,
	}
}
