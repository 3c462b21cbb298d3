// Package observation turns raw traffic events from the interception
// transport into canonical observations.
package observation

import (
	"strings"
	"time"

	"privacyspace/internal/config"
	"privacyspace/internal/domain"

	"github.com/charmbracelet/log"
)

type EventKind string

const (
	EventCookie     EventKind = "cookie"
	EventSetCookie  EventKind = "set-cookie"
	EventConnection EventKind = "connection"
)

// RawEvent is what the transport saw. Host may be a full URL, host[:port] or
// an IP literal. RemoteIP is used when Host is empty.
type RawEvent struct {
	Kind         EventKind `json:"kind"`
	Host         string    `json:"host"`
	RemoteIP     string    `json:"remote_ip,omitempty"`
	CookieName   string    `json:"cookie_name,omitempty"`
	FirstContact bool      `json:"first_contact,omitempty"`
	At           time.Time `json:"at,omitempty"`
}

type Normalizer struct {
	trackerPatterns func() *config.PatternSet
	cookiePatterns  func() *config.PatternSet
	now             func() time.Time
}

// NewNormalizer follows the live pattern lists from config.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		trackerPatterns: config.TrackerPatterns,
		cookiePatterns:  config.CookiePatterns,
		now:             time.Now,
	}
}

// NewNormalizerWithPatterns uses fixed pattern sets.
func NewNormalizerWithPatterns(trackers, cookies *config.PatternSet) *Normalizer {
	return &Normalizer{
		trackerPatterns: func() *config.PatternSet { return trackers },
		cookiePatterns:  func() *config.PatternSet { return cookies },
		now:             time.Now,
	}
}

// Normalize maps ev to an observation. ok is false when the event carries no
// usable subject or no tracking evidence.
func (n *Normalizer) Normalize(ev RawEvent) (domain.Observation, bool) {
	raw := ev.Host
	if strings.TrimSpace(raw) == "" {
		raw = ev.RemoteIP
	}

	subject, kind, ok := domain.NormalizeSubject(raw)
	if !ok {
		log.Debug("Dropping event without subject", "host", ev.Host, "remote_ip", ev.RemoteIP)
		return domain.Observation{}, false
	}
	if err := domain.ValidateSubject(subject, kind); err != nil {
		log.Debug("Dropping event with malformed subject", "subject", subject, "error", err)
		return domain.Observation{}, false
	}
	if domain.IsLoopback(subject, kind) {
		return domain.Observation{}, false
	}

	method, ok := n.classify(ev, subject)
	if !ok {
		return domain.Observation{}, false
	}

	observedAt := ev.At
	if observedAt.IsZero() {
		observedAt = n.now()
	}

	return domain.Observation{
		Subject:    subject,
		Kind:       kind,
		Method:     method,
		ObservedAt: observedAt.UTC(),
	}, true
}

func (n *Normalizer) classify(ev RawEvent, subject string) (domain.Method, bool) {
	if n.trackerPatterns().Match(subject) {
		return domain.MethodPattern, true
	}

	if ev.Kind == EventCookie || ev.Kind == EventSetCookie {
		if n.IsTrackingCookie(ev.CookieName) {
			return domain.MethodCookie, true
		}
	}

	if ev.FirstContact {
		return domain.MethodConnection, true
	}

	return "", false
}

func (n *Normalizer) IsTrackingCookie(name string) bool {
	return n.cookiePatterns().Match(strings.TrimSpace(name))
}
