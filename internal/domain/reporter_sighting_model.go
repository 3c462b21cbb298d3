package domain

import "time"

// ReporterSighting records that a reporter has reported a subject at least once.
// It backs the distinct reporter count across restarts.
type ReporterSighting struct {
	ReporterID string      `gorm:"primaryKey;size:128"`
	Subject    string      `gorm:"primaryKey;size:255;index:idx_sighting_subject,priority:2"`
	Kind       SubjectKind `gorm:"primaryKey;size:8;index:idx_sighting_subject,priority:1"`

	FirstReportedAt time.Time `gorm:"not null"`
}

func (s ReporterSighting) Key() SubjectKey {
	return SubjectKey{Kind: s.Kind, Subject: s.Subject}
}
