package domain

import "time"

type Method string

const (
	MethodCookie     Method = "cookie"
	MethodConnection Method = "connection"
	MethodPattern    Method = "pattern"
)

func (m Method) Valid() bool {
	return m == MethodCookie || m == MethodConnection || m == MethodPattern
}

// Evidence reports whether the method carries tracking evidence on its own.
func (m Method) Evidence() bool {
	return m == MethodCookie || m == MethodPattern
}

// Observation is a single local traffic event tied to a subject.
type Observation struct {
	Subject    string
	Kind       SubjectKind
	Method     Method
	ObservedAt time.Time
}

func (o Observation) Key() SubjectKey {
	return SubjectKey{Kind: o.Kind, Subject: o.Subject}
}

// Report is a client's claim that a subject is a tracker.
type Report struct {
	Subject          string      `json:"subject"`
	Kind             SubjectKind `json:"kind"`
	Method           Method      `json:"method"`
	ReporterID       string      `json:"reporter_id"`
	ClientObservedAt time.Time   `json:"client_observed_at"`
}

func (r Report) Key() SubjectKey {
	return SubjectKey{Kind: r.Kind, Subject: r.Subject}
}

// Update is pushed to clients whenever a TrackerRecord changes status.
type Update struct {
	Subject string        `json:"subject"`
	Kind    SubjectKind   `json:"kind"`
	Status  TrackerStatus `json:"status"`
	Version uint64        `json:"version"`
}

func (u Update) Key() SubjectKey {
	return SubjectKey{Kind: u.Kind, Subject: u.Subject}
}

type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictBlock Verdict = "block"
)
