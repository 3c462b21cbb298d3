package clientapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"privacyspace/internal/domain"
	"privacyspace/internal/reportclient"
	"privacyspace/internal/verdict"
)

type whitelistRequest struct {
	Subject string `json:"subject"`
}

func (a *API) whitelist(w http.ResponseWriter, r *http.Request) {
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
	if err := a.engine.Whitelist(subject, kind); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, verr.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "whitelisting failed", http.StatusInternalServerError)
		return
	}

	entry, _ := a.engine.Entry(subject, kind)
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) unwhitelist(w http.ResponseWriter, r *http.Request) {
	kind := domain.SubjectKind(r.PathValue("kind"))
	if !kind.Valid() {
		writeError(w, "unknown subject kind", http.StatusBadRequest)
		return
	}

	subject, normalizedKind, ok := domain.NormalizeSubject(r.PathValue("subject"))
	if !ok || normalizedKind != kind {
		writeError(w, "invalid subject", http.StatusBadRequest)
		return
	}

	if !a.engine.Unwhitelist(subject, kind) {
		writeError(w, "subject is not whitelisted", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Engine     verdict.Stats        `json:"engine"`
	Aggregator *reportclient.Status `json:"aggregator,omitempty"`
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Engine: a.engine.Stats()}
	if a.client != nil {
		st := a.client.Status()
		resp.Aggregator = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
