package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"privacyspace/internal/auth"
	"privacyspace/internal/broadcast"
	"privacyspace/internal/domain"
	"privacyspace/internal/registry"
)

type testAggregator struct {
	registry *registry.Registry
	hub      *broadcast.Hub
	server   *httptest.Server
}

func newTestAggregator(t *testing.T) *testAggregator {
	t.Helper()

	hub := broadcast.NewHub(broadcast.DefaultQueueSize)
	reg := registry.New(registry.Options{Publisher: hub})

	s, err := New(Options{Registry: reg, Hub: hub})
	if err != nil {
		t.Fatalf("New returned %v", err)
	}

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testAggregator{registry: reg, hub: hub, server: srv}
}

func (a *testAggregator) postReport(t *testing.T, subject, reporter string) reportResponse {
	t.Helper()
	body, _ := json.Marshal(domain.Report{
		Subject:          subject,
		Kind:             domain.KindDomain,
		Method:           domain.MethodCookie,
		ReporterID:       reporter,
		ClientObservedAt: time.Now().UTC(),
	})

	resp, err := http.Post(a.server.URL+"/reports", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /reports: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /reports status = %d, want 202", resp.StatusCode)
	}
	var out reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode report response: %v", err)
	}
	return out
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSubmitReportResponses(t *testing.T) {
	agg := newTestAggregator(t)

	if got := agg.postReport(t, "evil.example", "reporter-a"); !got.Accepted {
		t.Fatalf("valid report not accepted: %+v", got)
	}
	if got := agg.postReport(t, "not a domain", "reporter-a"); got.Accepted || got.Reason != "invalid" {
		t.Fatalf("invalid report response = %+v", got)
	}

	resp, err := http.Post(agg.server.URL+"/reports", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("malformed body status = %d, want 202", resp.StatusCode)
	}
}

func TestTrackerEndpoints(t *testing.T) {
	agg := newTestAggregator(t)
	agg.postReport(t, "evil.example", "reporter-a")
	agg.postReport(t, "evil.example", "reporter-b")
	agg.postReport(t, "maybe.example", "reporter-a")

	var rec domain.TrackerRecord
	if code := getJSON(t, agg.server.URL+"/api/trackers/domain/evil.example", &rec); code != http.StatusOK {
		t.Fatalf("get tracker status = %d", code)
	}
	if rec.Status != domain.StatusConfirmed || rec.Version != 2 {
		t.Fatalf("tracker = %+v", rec)
	}

	if code := getJSON(t, agg.server.URL+"/api/trackers/domain/unknown.example", nil); code != http.StatusNotFound {
		t.Fatalf("unknown tracker status = %d, want 404", code)
	}
	if code := getJSON(t, agg.server.URL+"/api/trackers/url/evil.example", nil); code != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d, want 400", code)
	}

	var list []domain.TrackerRecord
	getJSON(t, agg.server.URL+"/api/trackers?status=candidate", &list)
	if len(list) != 1 || list[0].Subject != "maybe.example" {
		t.Fatalf("candidate list = %+v", list)
	}
	if code := getJSON(t, agg.server.URL+"/api/trackers?order=sideways", nil); code != http.StatusBadRequest {
		t.Fatalf("bad order status = %d, want 400", code)
	}

	var stats statsResponse
	getJSON(t, agg.server.URL+"/api/stats", &stats)
	if stats.Confirmed != 1 || stats.Candidates != 1 || stats.ActiveReporters != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	resp, err := http.Get(agg.server.URL + "/api/blocklist?format=hosts")
	if err != nil {
		t.Fatalf("GET blocklist: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "0.0.0.0 evil.example\n" {
		t.Fatalf("hosts blocklist = %q", body)
	}
}

func TestSnapshotEndpointPages(t *testing.T) {
	agg := newTestAggregator(t)
	for _, subject := range []string{"a.example", "b.example", "c.example"} {
		if _, err := agg.registry.Whitelist(context.Background(), subject, domain.KindDomain); err != nil {
			t.Fatalf("Whitelist: %v", err)
		}
	}

	var seen []string
	token := ""
	for i := 0; i < 5; i++ {
		var page registry.SnapshotPage
		url := agg.server.URL + "/snapshot?page_size=2&page_token=" + token
		if code := getJSON(t, url, &page); code != http.StatusOK {
			t.Fatalf("snapshot status = %d", code)
		}
		for _, rec := range page.Records {
			seen = append(seen, rec.Subject)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	if strings.Join(seen, ",") != "a.example,b.example,c.example" {
		t.Fatalf("snapshot subjects = %v", seen)
	}

	if code := getJSON(t, agg.server.URL+"/snapshot?page_token=bm90LWEta2V5", nil); code != http.StatusBadRequest {
		t.Fatalf("bad token status = %d, want 400", code)
	}
}

func TestSubscribeStreamsUpdatesAndHeartbeats(t *testing.T) {
	agg := newTestAggregator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, agg.server.URL+"/subscribe?reporter_id=watcher", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var frame broadcast.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil || frame.Type != broadcast.FrameReady || frame.SessionID == "" {
		t.Fatalf("ready frame = %+v, err %v", frame, err)
	}

	agg.postReport(t, "evil.example", "reporter-a")
	agg.postReport(t, "evil.example", "reporter-b")

	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if frame.Type != broadcast.FrameUpdate || frame.Update == nil {
		t.Fatalf("frame = %+v, want update", frame)
	}
	want := domain.Update{Subject: "evil.example", Kind: domain.KindDomain, Status: domain.StatusConfirmed, Version: 2}
	if *frame.Update != want {
		t.Fatalf("update = %+v, want %+v", *frame.Update, want)
	}

	if err := wsjson.Write(ctx, conn, broadcast.Frame{Type: broadcast.FrameHeartbeat}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &frame); err != nil || frame.Type != broadcast.FrameHeartbeatAck {
		t.Fatalf("heartbeat reply = %+v, err %v", frame, err)
	}
}

func TestDisconnectAllClosesSubscribers(t *testing.T) {
	agg := newTestAggregator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, agg.server.URL+"/subscribe?reporter_id=watcher", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var frame broadcast.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil || frame.Type != broadcast.FrameReady {
		t.Fatalf("ready frame = %+v, err %v", frame, err)
	}

	if n := agg.hub.DisconnectAll(); n != 1 {
		t.Fatalf("DisconnectAll = %d, want 1", n)
	}

	err = wsjson.Read(ctx, conn, &frame)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("read after disconnect = %v, want normal closure", err)
	}
}

func TestAdminWhitelistRequiresAdminToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	agg := newTestAggregator(t)
	agg.postReport(t, "evil.example", "reporter-a")
	agg.postReport(t, "evil.example", "reporter-b")

	post := func(token string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, agg.server.URL+"/admin/whitelist", strings.NewReader(`{"subject":"Evil.Example"}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST /admin/whitelist: %v", err)
		}
		return resp
	}

	resp := post("")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	token, err := auth.GenerateToken("ops", auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	resp = post(token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", resp.StatusCode)
	}

	var rec domain.TrackerRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Subject != "evil.example" || rec.Status != domain.StatusWhitelisted || rec.Version != 3 {
		t.Fatalf("whitelisted record = %+v", rec)
	}
}

func TestGraphQLEndpoint(t *testing.T) {
	agg := newTestAggregator(t)
	agg.postReport(t, "evil.example", "reporter-a")

	resp, err := http.Post(agg.server.URL+"/graphql", "application/json",
		strings.NewReader(`{"query":"{ tracker(subject: \"evil.example\") { status totalReports } }"}`))
	if err != nil {
		t.Fatalf("POST /graphql: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Tracker struct {
				Status       string `json:"status"`
				TotalReports int    `json:"totalReports"`
			} `json:"tracker"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.Tracker.Status != "CANDIDATE" || out.Data.Tracker.TotalReports != 1 {
		t.Fatalf("graphql tracker = %+v", out.Data.Tracker)
	}
}

func TestParseOriginPatterns(t *testing.T) {
	got := ParseOriginPatterns(" a.example, ,*.b.example ")
	if len(got) != 2 || got[0] != "a.example" || got[1] != "*.b.example" {
		t.Fatalf("ParseOriginPatterns = %v", got)
	}
	if ParseOriginPatterns("") != nil {
		t.Fatal("empty input should yield nil")
	}
}
