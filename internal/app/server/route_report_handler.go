package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"privacyspace/internal/domain"
)

const maxReportBody = 16 << 10

type reportResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// submitReport always answers 202: clients fire and forget, and a rejected
// reporter learns nothing about why.
func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	var report domain.Report
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxReportBody))
	if err := decoder.Decode(&report); err != nil {
		writeJSON(w, http.StatusAccepted, reportResponse{Reason: "invalid"})
		return
	}

	err := s.registry.SubmitReport(r.Context(), report)

	var (
		verr  *domain.ValidationError
		rlerr *domain.RateLimitError
	)
	switch {
	case err == nil:
		s.activity.Touch(report.ReporterID)
		writeJSON(w, http.StatusAccepted, reportResponse{Accepted: true})
	case errors.As(err, &verr):
		log.Debug("Report rejected", "reason", verr.Reason)
		writeJSON(w, http.StatusAccepted, reportResponse{Reason: "invalid"})
	case errors.As(err, &rlerr):
		log.Debug("Report rate limited", "limit", rlerr.Limit, "window", rlerr.Window)
		writeJSON(w, http.StatusAccepted, reportResponse{Reason: "rate_limited"})
	default:
		log.Error("Report processing failed", "error", err)
		writeJSON(w, http.StatusAccepted, reportResponse{Reason: "unavailable"})
	}
}
