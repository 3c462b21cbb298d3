package registry

import (
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"privacyspace/internal/domain"
)

const (
	DefaultSnapshotPageSize = 500
	MaxSnapshotPageSize     = 5000
	defaultQueryLimit       = 100
	topCompanyCount         = 10
)

type OrderBy string

const (
	OrderDistinct  OrderBy = "distinct"
	OrderTotal     OrderBy = "total"
	OrderRecent    OrderBy = "recent"
	OrderFirstSeen OrderBy = "first_seen"
)

type Query struct {
	Statuses []domain.TrackerStatus
	OrderBy  OrderBy
	// Since and Until bound LastReportedAt; zero means unbounded.
	Since time.Time
	Until time.Time
	Limit int
}

type SnapshotPage struct {
	Records       []domain.TrackerRecord `json:"records"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type CompanyCount struct {
	Company string `json:"company"`
	Count   int    `json:"count"`
}

type Stats struct {
	Candidates      int            `json:"candidates"`
	Confirmed       int            `json:"confirmed"`
	Whitelisted     int            `json:"whitelisted"`
	TotalReports    int64          `json:"total_reports"`
	ReportedLastHr  int            `json:"reported_last_hour"`
	ReportedLastMin int            `json:"reported_last_minute"`
	TopCompanies    []CompanyCount `json:"top_companies"`
}

func (r *Registry) Get(subject string, kind domain.SubjectKind) (domain.TrackerRecord, bool) {
	key := domain.SubjectKey{Kind: kind, Subject: subject}
	s := r.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return domain.TrackerRecord{}, false
	}
	return *rec, true
}

// Lookup returns the status of subject or, for domains, its nearest parent
// that has a record.
func (r *Registry) Lookup(subject string, kind domain.SubjectKind) (domain.TrackerStatus, bool) {
	candidates := []string{subject}
	if kind == domain.KindDomain {
		candidates = domain.ParentDomains(subject)
	}
	for _, c := range candidates {
		if rec, ok := r.Get(c, kind); ok {
			return rec.Status, true
		}
	}
	return "", false
}

func (r *Registry) collect(match func(*domain.TrackerRecord) bool) []domain.TrackerRecord {
	var out []domain.TrackerRecord
	for _, s := range r.shards {
		s.mu.Lock()
		for _, rec := range s.records {
			if match == nil || match(rec) {
				out = append(out, *rec)
			}
		}
		s.mu.Unlock()
	}
	return out
}

func statusFilter(statuses []domain.TrackerStatus) func(domain.TrackerStatus) bool {
	if len(statuses) == 0 {
		return func(domain.TrackerStatus) bool { return true }
	}
	set := make(map[domain.TrackerStatus]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return func(s domain.TrackerStatus) bool {
		_, ok := set[s]
		return ok
	}
}

// Snapshot pages through records ordered by (kind, subject). The page token
// is opaque to callers; an empty token starts from the beginning.
func (r *Registry) Snapshot(statuses []domain.TrackerStatus, pageToken string, pageSize int) (SnapshotPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultSnapshotPageSize
	}
	if pageSize > MaxSnapshotPageSize {
		pageSize = MaxSnapshotPageSize
	}

	var after *domain.SubjectKey
	if pageToken != "" {
		key, err := decodePageToken(pageToken)
		if err != nil {
			return SnapshotPage{}, err
		}
		after = &key
	}

	wanted := statusFilter(statuses)
	records := r.collect(func(rec *domain.TrackerRecord) bool {
		if !wanted(rec.Status) {
			return false
		}
		return after == nil || keyLess(*after, rec.Key())
	})

	sort.Slice(records, func(i, j int) bool {
		return keyLess(records[i].Key(), records[j].Key())
	})

	page := SnapshotPage{Records: records}
	if len(records) > pageSize {
		page.Records = records[:pageSize]
		page.NextPageToken = encodePageToken(page.Records[pageSize-1].Key())
	}
	if page.Records == nil {
		page.Records = []domain.TrackerRecord{}
	}
	return page, nil
}

func keyLess(a, b domain.SubjectKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Subject < b.Subject
}

func encodePageToken(key domain.SubjectKey) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key.String()))
}

func decodePageToken(token string) (domain.SubjectKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return domain.SubjectKey{}, &domain.ValidationError{Field: "page_token", Reason: "malformed"}
	}
	kind, subject, ok := strings.Cut(string(raw), ":")
	if !ok || !domain.SubjectKind(kind).Valid() {
		return domain.SubjectKey{}, &domain.ValidationError{Field: "page_token", Reason: "malformed"}
	}
	return domain.SubjectKey{Kind: domain.SubjectKind(kind), Subject: subject}, nil
}

// Query is the read-only listing behind the dashboard API.
func (r *Registry) Query(q Query) []domain.TrackerRecord {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > MaxSnapshotPageSize {
		limit = MaxSnapshotPageSize
	}

	wanted := statusFilter(q.Statuses)
	records := r.collect(func(rec *domain.TrackerRecord) bool {
		if !wanted(rec.Status) {
			return false
		}
		if !q.Since.IsZero() && rec.LastReportedAt.Before(q.Since) {
			return false
		}
		if !q.Until.IsZero() && !rec.LastReportedAt.Before(q.Until) {
			return false
		}
		return true
	})

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch q.OrderBy {
		case OrderTotal:
			if a.TotalReportCount != b.TotalReportCount {
				return a.TotalReportCount > b.TotalReportCount
			}
		case OrderRecent:
			if !a.LastReportedAt.Equal(b.LastReportedAt) {
				return a.LastReportedAt.After(b.LastReportedAt)
			}
		case OrderFirstSeen:
			if !a.FirstSeen.Equal(b.FirstSeen) {
				return a.FirstSeen.After(b.FirstSeen)
			}
		default:
			if a.DistinctReporterCount != b.DistinctReporterCount {
				return a.DistinctReporterCount > b.DistinctReporterCount
			}
		}
		return keyLess(a.Key(), b.Key())
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// Live lists trackers reported within window, newest first.
func (r *Registry) Live(window time.Duration, limit int) []domain.TrackerRecord {
	return r.Query(Query{
		OrderBy: OrderRecent,
		Since:   r.now().Add(-window),
		Limit:   limit,
	})
}

func (r *Registry) Stats() Stats {
	now := r.now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	var stats Stats
	companies := make(map[string]int)

	for _, rec := range r.collect(nil) {
		switch rec.Status {
		case domain.StatusCandidate:
			stats.Candidates++
		case domain.StatusConfirmed:
			stats.Confirmed++
			if rec.Company != "" {
				companies[rec.Company]++
			}
		case domain.StatusWhitelisted:
			stats.Whitelisted++
		}
		stats.TotalReports += rec.TotalReportCount
		if !rec.LastReportedAt.Before(hourAgo) {
			stats.ReportedLastHr++
		}
		if !rec.LastReportedAt.Before(minuteAgo) {
			stats.ReportedLastMin++
		}
	}

	stats.TopCompanies = make([]CompanyCount, 0, len(companies))
	for company, count := range companies {
		stats.TopCompanies = append(stats.TopCompanies, CompanyCount{Company: company, Count: count})
	}
	sort.Slice(stats.TopCompanies, func(i, j int) bool {
		if stats.TopCompanies[i].Count != stats.TopCompanies[j].Count {
			return stats.TopCompanies[i].Count > stats.TopCompanies[j].Count
		}
		return stats.TopCompanies[i].Company < stats.TopCompanies[j].Company
	})
	if len(stats.TopCompanies) > topCompanyCount {
		stats.TopCompanies = stats.TopCompanies[:topCompanyCount]
	}

	return stats
}

// ParseStatuses reads a comma separated status filter. Empty input means
// every status.
func ParseStatuses(raw string) ([]domain.TrackerStatus, error) {
	var statuses []domain.TrackerStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		status := domain.TrackerStatus(part)
		if !status.Valid() {
			return nil, &domain.ValidationError{Field: "status", Reason: "unknown status " + part}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func ParseOrderBy(raw string) (OrderBy, error) {
	switch order := OrderBy(strings.TrimSpace(strings.ToLower(raw))); order {
	case "":
		return OrderDistinct, nil
	case OrderDistinct, OrderTotal, OrderRecent, OrderFirstSeen:
		return order, nil
	default:
		return "", &domain.ValidationError{Field: "order", Reason: "unknown order " + raw}
	}
}
