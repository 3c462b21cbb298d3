// Package broadcast fans registry updates out to connected report clients.
package broadcast

import (
	"sync"
	"sync/atomic"

	"privacyspace/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const DefaultQueueSize = 256

// Session is one subscriber. It lives until Unsubscribe.
type Session struct {
	ID         string
	ReporterID string

	mu     sync.Mutex
	queue  chan domain.Update
	resync atomic.Bool
	done   chan struct{}
}

// Updates delivers queued updates in publish order.
func (s *Session) Updates() <-chan domain.Update {
	return s.queue
}

// Done is closed when the session is unsubscribed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// offer never blocks. A full queue is discarded and the session must
// refetch the snapshot instead.
func (s *Session) offer(update domain.Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- update:
		return true
	default:
	}

drain:
	for {
		select {
		case <-s.queue:
		default:
			break drain
		}
	}
	s.resync.Store(true)
	return false
}

type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	queueSize int

	published atomic.Uint64
	overflows atomic.Uint64
}

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
	}
}

func (h *Hub) Subscribe(reporterID string) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		ReporterID: reporterID,
		queue:      make(chan domain.Update, h.queueSize),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	log.Debug("Subscriber connected", "session", s.ID, "sessions", count)
	return s
}

func (h *Hub) Unsubscribe(s *Session) {
	if s == nil {
		return
	}

	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	count := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	close(s.done)
	s.mu.Unlock()

	log.Debug("Subscriber disconnected", "session", s.ID, "sessions", count)
}

// DisconnectAll unsubscribes every session and returns how many there were.
// Their handlers see Done and close the connection. The hub stays usable.
func (h *Hub) DisconnectAll() int {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	}
	if len(sessions) > 0 {
		log.Info("Subscribers disconnected", "sessions", len(sessions))
	}
	return len(sessions)
}

// Publish hands update to every session without blocking.
func (h *Hub) Publish(update domain.Update) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		if !s.offer(update) {
			h.overflows.Add(1)
			log.Warn("Subscriber queue overflow, forcing resync", "session", s.ID)
		}
	}
}

// Heartbeat reports and clears the session's resync flag.
func (h *Hub) Heartbeat(s *Session) bool {
	if s == nil {
		return false
	}
	return s.resync.Swap(false)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

type Stats struct {
	Sessions  int    `json:"sessions"`
	Published uint64 `json:"published"`
	Overflows uint64 `json:"overflows"`
}

func (h *Hub) Stats() Stats {
	return Stats{
		Sessions:  h.Len(),
		Published: h.published.Load(),
		Overflows: h.overflows.Load(),
	}
}
