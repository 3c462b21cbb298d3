package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"privacyspace/internal/broadcast"
	"privacyspace/internal/domain"
	"privacyspace/internal/jobs/runtime"
	"privacyspace/internal/registry"
)

const (
	defaultLiveWindow = time.Hour
	maxLiveWindow     = 24 * time.Hour
)

var snapshotStatuses = []domain.TrackerStatus{domain.StatusConfirmed, domain.StatusWhitelisted}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	statuses, err := registry.ParseStatuses(query.Get("status"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(statuses) == 0 {
		statuses = snapshotStatuses
	}

	rawSize := query.Get("page_size")
	if rawSize == "" {
		rawSize = query.Get("limit")
	}
	pageSize, err := intParam(rawSize, 0)
	if err != nil {
		writeError(w, "invalid page_size", http.StatusBadRequest)
		return
	}

	page, err := s.registry.Snapshot(statuses, query.Get("page_token"), pageSize)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) listTrackers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	statuses, err := registry.ParseStatuses(query.Get("status"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	order, err := registry.ParseOrderBy(query.Get("order"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	since, err := timeParam(query.Get("since"))
	if err != nil {
		writeError(w, "invalid since", http.StatusBadRequest)
		return
	}
	until, err := timeParam(query.Get("until"))
	if err != nil {
		writeError(w, "invalid until", http.StatusBadRequest)
		return
	}
	limit, err := intParam(query.Get("limit"), 0)
	if err != nil {
		writeError(w, "invalid limit", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.registry.Query(registry.Query{
		Statuses: statuses,
		OrderBy:  order,
		Since:    since,
		Until:    until,
		Limit:    limit,
	}))
}

func (s *Server) liveTrackers(w http.ResponseWriter, r *http.Request) {
	window := defaultLiveWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = min(parsed, maxLiveWindow)
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, "invalid limit", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.registry.Live(window, limit))
}

func (s *Server) getTracker(w http.ResponseWriter, r *http.Request) {
	kind := domain.SubjectKind(strings.ToLower(r.PathValue("kind")))
	subject := strings.ToLower(strings.TrimSpace(r.PathValue("subject")))

	if err := domain.ValidateSubject(subject, kind); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, ok := s.registry.Get(subject, kind)
	if !ok {
		writeError(w, "tracker not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type statsResponse struct {
	registry.Stats
	Subscribers     broadcast.Stats `json:"subscribers"`
	ActiveReporters int             `json:"active_reporters"`
	Instances       int             `json:"instances"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:       s.registry.Stats(),
		Subscribers: s.hub.Stats(),
	}

	if active, err := s.activity.ActiveCount(r.Context()); err != nil {
		log.Warn("Failed to count active reporters", "error", err)
	} else {
		resp.ActiveReporters = active
	}
	if instances, err := runtime.CountActiveInstances(r.Context(), s.redis); err != nil {
		log.Warn("Failed to count aggregator instances", "error", err)
	} else {
		resp.Instances = instances
	}

	writeJSON(w, http.StatusOK, resp)
}

// getBlocklist exports confirmed trackers as json, one subject per line, or
// a hosts file. Hosts output only carries domains.
func (s *Server) getBlocklist(w http.ResponseWriter, r *http.Request) {
	records := s.confirmedRecords()

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "json":
		subjects := make([]string, 0, len(records))
		for _, rec := range records {
			subjects = append(subjects, rec.Subject)
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(subjects), "subjects": subjects})
	case "text", "hosts":
		var b strings.Builder
		for _, rec := range records {
			if format == "hosts" {
				if rec.Kind != domain.KindDomain {
					continue
				}
				fmt.Fprintf(&b, "0.0.0.0 %s\n", rec.Subject)
				continue
			}
			b.WriteString(rec.Subject)
			b.WriteByte('\n')
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(b.String()))
	default:
		writeError(w, "unknown format", http.StatusBadRequest)
	}
}

func (s *Server) confirmedRecords() []domain.TrackerRecord {
	var (
		records []domain.TrackerRecord
		token   string
	)
	for {
		page, err := s.registry.Snapshot([]domain.TrackerStatus{domain.StatusConfirmed}, token, registry.MaxSnapshotPageSize)
		if err != nil {
			return records
		}
		records = append(records, page.Records...)
		if page.NextPageToken == "" {
			return records
		}
		token = page.NextPageToken
	}
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}

func timeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
