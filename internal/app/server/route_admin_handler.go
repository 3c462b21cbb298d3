package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"privacyspace/internal/auth"
	"privacyspace/internal/config"
	"privacyspace/internal/domain"
)

type whitelistRequest struct {
	Subject string             `json:"subject"`
	Kind    domain.SubjectKind `json:"kind"`
}

func (s *Server) whitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	subject, kind, ok := domain.NormalizeSubject(req.Subject)
	if !ok {
		writeError(w, "invalid subject", http.StatusBadRequest)
		return
	}
	if req.Kind != "" && req.Kind != kind {
		writeError(w, "subject does not match kind", http.StatusBadRequest)
		return
	}

	rec, err := s.registry.Whitelist(r.Context(), subject, kind)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, verr.Error(), http.StatusBadRequest)
			return
		}
		log.Error("Whitelisting failed", "subject", subject, "error", err)
		writeError(w, "whitelisting failed", http.StatusInternalServerError)
		return
	}

	log.Info("Subject whitelisted", "subject", subject, "kind", kind, "by", auth.Subject(r))
	writeJSON(w, http.StatusOK, rec)
}

func getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&newConfig); err != nil {
		writeError(w, "invalid settings: "+strings.TrimSpace(err.Error()), http.StatusBadRequest)
		return
	}

	if err := config.SetConfig(newConfig); err != nil {
		writeError(w, "settings applied but not fully persisted", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, config.GetConfig())
}
