// Package graphql exposes a read-only GraphQL view of the tracker registry.
package graphql

import (
	"time"

	gql "github.com/graphql-go/graphql"

	"privacyspace/internal/domain"
	"privacyspace/internal/registry"
)

const maxLiveWindow = 24 * time.Hour

// Registry is the read side of registry.Registry.
type Registry interface {
	Get(subject string, kind domain.SubjectKind) (domain.TrackerRecord, bool)
	Query(q registry.Query) []domain.TrackerRecord
	Live(window time.Duration, limit int) []domain.TrackerRecord
	Stats() registry.Stats
}

func NewSchema(reg Registry) (gql.Schema, error) {
	statusEnum := gql.NewEnum(gql.EnumConfig{
		Name: "TrackerStatus",
		Values: gql.EnumValueConfigMap{
			"CANDIDATE":   &gql.EnumValueConfig{Value: string(domain.StatusCandidate)},
			"CONFIRMED":   &gql.EnumValueConfig{Value: string(domain.StatusConfirmed)},
			"WHITELISTED": &gql.EnumValueConfig{Value: string(domain.StatusWhitelisted)},
		},
	})

	kindEnum := gql.NewEnum(gql.EnumConfig{
		Name: "SubjectKind",
		Values: gql.EnumValueConfigMap{
			"DOMAIN": &gql.EnumValueConfig{Value: string(domain.KindDomain)},
			"IP":     &gql.EnumValueConfig{Value: string(domain.KindIP)},
		},
	})

	orderEnum := gql.NewEnum(gql.EnumConfig{
		Name: "TrackerOrder",
		Values: gql.EnumValueConfigMap{
			"DISTINCT":   &gql.EnumValueConfig{Value: string(registry.OrderDistinct)},
			"TOTAL":      &gql.EnumValueConfig{Value: string(registry.OrderTotal)},
			"RECENT":     &gql.EnumValueConfig{Value: string(registry.OrderRecent)},
			"FIRST_SEEN": &gql.EnumValueConfig{Value: string(registry.OrderFirstSeen)},
		},
	})

	trackerType := gql.NewObject(gql.ObjectConfig{
		Name: "Tracker",
		Fields: gql.Fields{
			"subject":           &gql.Field{Type: gql.NewNonNull(gql.String)},
			"kind":              &gql.Field{Type: gql.NewNonNull(kindEnum)},
			"status":            &gql.Field{Type: gql.NewNonNull(statusEnum)},
			"version":           &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"distinctReporters": &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"totalReports":      &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"method":            &gql.Field{Type: gql.NewNonNull(gql.String)},
			"company":           &gql.Field{Type: gql.String},
			"firstSeen":         &gql.Field{Type: gql.DateTime},
			"lastReportedAt":    &gql.Field{Type: gql.DateTime},
			"lastPromotedAt":    &gql.Field{Type: gql.DateTime},
		},
	})

	companyType := gql.NewObject(gql.ObjectConfig{
		Name: "CompanyCount",
		Fields: gql.Fields{
			"company": &gql.Field{Type: gql.NewNonNull(gql.String)},
			"count":   &gql.Field{Type: gql.NewNonNull(gql.Int)},
		},
	})

	statsType := gql.NewObject(gql.ObjectConfig{
		Name: "RegistryStats",
		Fields: gql.Fields{
			"candidates":         &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"confirmed":          &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"whitelisted":        &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"totalReports":       &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"reportedLastHour":   &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"reportedLastMinute": &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"topCompanies":       &gql.Field{Type: gql.NewNonNull(gql.NewList(gql.NewNonNull(companyType)))},
		},
	})

	trackerList := gql.NewNonNull(gql.NewList(gql.NewNonNull(trackerType)))

	queryType := gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"tracker": &gql.Field{
				Type: trackerType,
				Args: gql.FieldConfigArgument{
					"subject": &gql.ArgumentConfig{Type: gql.NewNonNull(gql.String)},
					"kind":    &gql.ArgumentConfig{Type: kindEnum, DefaultValue: string(domain.KindDomain)},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					subject, _ := p.Args["subject"].(string)
					kind, _ := p.Args["kind"].(string)
					rec, ok := reg.Get(subject, domain.SubjectKind(kind))
					if !ok {
						return nil, nil
					}
					return trackerMap(rec), nil
				},
			},
			"trackers": &gql.Field{
				Type: trackerList,
				Args: gql.FieldConfigArgument{
					"statuses": &gql.ArgumentConfig{Type: gql.NewList(gql.NewNonNull(statusEnum))},
					"order":    &gql.ArgumentConfig{Type: orderEnum, DefaultValue: string(registry.OrderDistinct)},
					"since":    &gql.ArgumentConfig{Type: gql.DateTime},
					"until":    &gql.ArgumentConfig{Type: gql.DateTime},
					"limit":    &gql.ArgumentConfig{Type: gql.Int, DefaultValue: 100},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					q := registry.Query{}
					if raw, ok := p.Args["statuses"].([]interface{}); ok {
						for _, s := range raw {
							if status, ok := s.(string); ok {
								q.Statuses = append(q.Statuses, domain.TrackerStatus(status))
							}
						}
					}
					if order, ok := p.Args["order"].(string); ok {
						q.OrderBy = registry.OrderBy(order)
					}
					if since, ok := p.Args["since"].(time.Time); ok {
						q.Since = since
					}
					if until, ok := p.Args["until"].(time.Time); ok {
						q.Until = until
					}
					if limit, ok := p.Args["limit"].(int); ok {
						q.Limit = limit
					}
					return trackerMaps(reg.Query(q)), nil
				},
			},
			"live": &gql.Field{
				Type: trackerList,
				Args: gql.FieldConfigArgument{
					"windowSeconds": &gql.ArgumentConfig{Type: gql.Int, DefaultValue: 3600},
					"limit":         &gql.ArgumentConfig{Type: gql.Int, DefaultValue: 50},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					window := time.Hour
					if seconds, ok := p.Args["windowSeconds"].(int); ok && seconds > 0 {
						window = min(time.Duration(seconds)*time.Second, maxLiveWindow)
					}
					limit, _ := p.Args["limit"].(int)
					return trackerMaps(reg.Live(window, limit)), nil
				},
			},
			"stats": &gql.Field{
				Type: gql.NewNonNull(statsType),
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					return statsMap(reg.Stats()), nil
				},
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{Query: queryType})
}

func trackerMap(rec domain.TrackerRecord) map[string]interface{} {
	out := map[string]interface{}{
		"subject":           rec.Subject,
		"kind":              string(rec.Kind),
		"status":            string(rec.Status),
		"version":           int(rec.Version),
		"distinctReporters": int(rec.DistinctReporterCount),
		"totalReports":      int(rec.TotalReportCount),
		"method":            string(rec.Method),
		"firstSeen":         rec.FirstSeen,
		"lastReportedAt":    rec.LastReportedAt,
	}
	if rec.Company != "" {
		out["company"] = rec.Company
	}
	if rec.LastPromotedAt != nil {
		out["lastPromotedAt"] = *rec.LastPromotedAt
	}
	return out
}

func trackerMaps(records []domain.TrackerRecord) []map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		items = append(items, trackerMap(rec))
	}
	return items
}

func statsMap(stats registry.Stats) map[string]interface{} {
	companies := make([]map[string]interface{}, 0, len(stats.TopCompanies))
	for _, c := range stats.TopCompanies {
		companies = append(companies, map[string]interface{}{
			"company": c.Company,
			"count":   c.Count,
		})
	}

	return map[string]interface{}{
		"candidates":         stats.Candidates,
		"confirmed":          stats.Confirmed,
		"whitelisted":        stats.Whitelisted,
		"totalReports":       int(stats.TotalReports),
		"reportedLastHour":   stats.ReportedLastHr,
		"reportedLastMinute": stats.ReportedLastMin,
		"topCompanies":       companies,
	}
}
