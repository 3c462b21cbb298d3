package registry

import (
	"strings"
	"time"

	"privacyspace/internal/domain"
)

func validateReport(report domain.Report, now time.Time, maxSkew time.Duration) error {
	if err := domain.ValidateSubject(report.Subject, report.Kind); err != nil {
		return err
	}
	if !report.Method.Valid() {
		return &domain.ValidationError{Field: "method", Reason: "unknown method"}
	}

	if strings.TrimSpace(report.ReporterID) == "" {
		return &domain.ValidationError{Field: "reporter_id", Reason: "missing"}
	}
	if len(report.ReporterID) > maxReporterIDLength {
		return &domain.ValidationError{Field: "reporter_id", Reason: "too long"}
	}

	if report.ClientObservedAt.IsZero() {
		return &domain.ValidationError{Field: "client_observed_at", Reason: "missing"}
	}
	skew := now.Sub(report.ClientObservedAt)
	if skew < 0 {
		skew = -skew
	}
	if maxSkew > 0 && skew > maxSkew {
		return &domain.ValidationError{Field: "client_observed_at", Reason: "outside allowed clock skew"}
	}

	return nil
}
