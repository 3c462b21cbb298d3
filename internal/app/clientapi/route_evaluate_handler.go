package clientapi

import (
	"encoding/json"
	"net/http"

	"privacyspace/internal/domain"
	"privacyspace/internal/observation"
)

type evaluateRequest struct {
	Event observation.RawEvent `json:"event"`
	// Headers are the outgoing request headers.
	Headers http.Header `json:"headers,omitempty"`
	// SetCookies are Set-Cookie values from the response, if any.
	SetCookies []string `json:"set_cookies,omitempty"`
}

type evaluateResponse struct {
	Verdict        domain.Verdict     `json:"verdict"`
	Subject        string             `json:"subject,omitempty"`
	Kind           domain.SubjectKind `json:"kind,omitempty"`
	Method         domain.Method      `json:"method,omitempty"`
	Headers        http.Header        `json:"headers,omitempty"`
	SetCookies     []string           `json:"set_cookies,omitempty"`
	RemovedCookies []string           `json:"removed_cookies,omitempty"`
}

// evaluate decides one request. Blocked requests get no headers back; the
// transport drops them. Allowed requests have tracking cookies removed and the
// identifying headers swapped for the current fingerprint bundle.
func (a *API) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := evaluateResponse{Verdict: domain.VerdictAllow}

	if obs, ok := a.normalizer.Normalize(req.Event); ok {
		resp.Subject, resp.Kind, resp.Method = obs.Subject, obs.Kind, obs.Method
		resp.Verdict = a.engine.Evaluate(obs)
	} else if subject, kind, ok := subjectOf(req.Event); ok {
		resp.Subject, resp.Kind = subject, kind
		resp.Verdict = a.engine.Peek(subject, kind)
	}

	if resp.Verdict == domain.VerdictBlock {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	headers := req.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if cookie := headers.Get("Cookie"); cookie != "" {
		filtered, removed := a.normalizer.FilterCookieHeader(cookie)
		if filtered == "" {
			headers.Del("Cookie")
		} else {
			headers.Set("Cookie", filtered)
		}
		resp.RemovedCookies = append(resp.RemovedCookies, removed...)
	}
	if len(req.SetCookies) > 0 {
		kept, removed := a.normalizer.FilterSetCookies(req.SetCookies)
		resp.SetCookies = kept
		resp.RemovedCookies = append(resp.RemovedCookies, removed...)
	}

	a.rotator.Next().Apply(headers)
	resp.Headers = headers

	writeJSON(w, http.StatusOK, resp)
}

func subjectOf(ev observation.RawEvent) (string, domain.SubjectKind, bool) {
	raw := ev.Host
	if raw == "" {
		raw = ev.RemoteIP
	}
	subject, kind, ok := domain.NormalizeSubject(raw)
	if !ok || domain.ValidateSubject(subject, kind) != nil || domain.IsLoopback(subject, kind) {
		return "", "", false
	}
	return subject, kind, true
}
