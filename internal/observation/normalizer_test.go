package observation

import (
	"reflect"
	"testing"
	"time"

	"privacyspace/internal/config"
	"privacyspace/internal/domain"
)

func testNormalizer() *Normalizer {
	return NewNormalizerWithPatterns(
		config.NewPatternSet([]string{`(^|\.)doubleclick\.net$`}),
		config.NewPatternSet([]string{"^_ga", "^_fbp$"}),
	)
}

func TestNormalize(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := testNormalizer()

	cases := []struct {
		name    string
		event   RawEvent
		ok      bool
		subject string
		kind    domain.SubjectKind
		method  domain.Method
	}{
		{
			name:    "tracking cookie",
			event:   RawEvent{Kind: EventCookie, Host: "https://Evil.Example:443/p", CookieName: "_ga", At: at},
			ok:      true,
			subject: "evil.example",
			kind:    domain.KindDomain,
			method:  domain.MethodCookie,
		},
		{
			name:    "set-cookie from tracker",
			event:   RawEvent{Kind: EventSetCookie, Host: "cdn.example.com", CookieName: "_fbp", At: at},
			ok:      true,
			subject: "cdn.example.com",
			kind:    domain.KindDomain,
			method:  domain.MethodCookie,
		},
		{
			name:    "known tracker pattern wins",
			event:   RawEvent{Kind: EventConnection, Host: "stats.g.doubleclick.net", At: at},
			ok:      true,
			subject: "stats.g.doubleclick.net",
			kind:    domain.KindDomain,
			method:  domain.MethodPattern,
		},
		{
			name:    "first contact connection",
			event:   RawEvent{Kind: EventConnection, Host: "new.example.org", FirstContact: true, At: at},
			ok:      true,
			subject: "new.example.org",
			kind:    domain.KindDomain,
			method:  domain.MethodConnection,
		},
		{
			name:    "remote ip fallback",
			event:   RawEvent{Kind: EventConnection, RemoteIP: "::ffff:203.0.113.5", FirstContact: true, At: at},
			ok:      true,
			subject: "203.0.113.5",
			kind:    domain.KindIP,
			method:  domain.MethodConnection,
		},
		{
			name:  "repeat connection carries no evidence",
			event: RawEvent{Kind: EventConnection, Host: "new.example.org", At: at},
		},
		{
			name:  "session cookie",
			event: RawEvent{Kind: EventCookie, Host: "shop.example", CookieName: "sessionid", At: at},
		},
		{
			name:  "loopback skipped",
			event: RawEvent{Kind: EventCookie, Host: "localhost:8080", CookieName: "_ga", At: at},
		},
		{
			name:  "loopback ip skipped",
			event: RawEvent{Kind: EventConnection, RemoteIP: "127.0.0.1", FirstContact: true, At: at},
		},
		{
			name:  "malformed host",
			event: RawEvent{Kind: EventCookie, Host: "bad_host.example", CookieName: "_ga", At: at},
		},
		{
			name:  "no subject",
			event: RawEvent{Kind: EventCookie, CookieName: "_ga", At: at},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs, ok := n.Normalize(tc.event)
			if ok != tc.ok {
				t.Fatalf("Normalize ok = %v, want %v (obs %+v)", ok, tc.ok, obs)
			}
			if !ok {
				return
			}
			if obs.Subject != tc.subject || obs.Kind != tc.kind || obs.Method != tc.method {
				t.Fatalf("Normalize = %+v, want subject=%s kind=%s method=%s", obs, tc.subject, tc.kind, tc.method)
			}
			if !obs.ObservedAt.Equal(at) {
				t.Fatalf("ObservedAt = %s, want %s", obs.ObservedAt, at)
			}
		})
	}
}

func TestNormalizeDefaultsObservedAt(t *testing.T) {
	n := testNormalizer()
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	obs, ok := n.Normalize(RawEvent{Kind: EventCookie, Host: "evil.example", CookieName: "_ga"})
	if !ok {
		t.Fatal("expected observation")
	}
	if !obs.ObservedAt.Equal(fixed) {
		t.Fatalf("ObservedAt = %s, want %s", obs.ObservedAt, fixed)
	}
}

func TestFilterCookieHeader(t *testing.T) {
	n := testNormalizer()

	filtered, removed := n.FilterCookieHeader("sessionid=abc; _ga=GA1.2.3; theme=dark; _fbp=fb.1")
	if filtered != "sessionid=abc; theme=dark" {
		t.Fatalf("filtered = %q", filtered)
	}
	if !reflect.DeepEqual(removed, []string{"_ga", "_fbp"}) {
		t.Fatalf("removed = %v", removed)
	}

	if filtered, removed := n.FilterCookieHeader(""); filtered != "" || removed != nil {
		t.Fatalf("empty header changed: %q %v", filtered, removed)
	}
}

func TestFilterSetCookies(t *testing.T) {
	n := testNormalizer()

	kept, removed := n.FilterSetCookies([]string{
		"_ga=GA1.2.3; Path=/; Domain=.example.com",
		"sessionid=abc; HttpOnly",
		"not a cookie",
	})
	if !reflect.DeepEqual(kept, []string{"sessionid=abc; HttpOnly", "not a cookie"}) {
		t.Fatalf("kept = %v", kept)
	}
	if !reflect.DeepEqual(removed, []string{"_ga"}) {
		t.Fatalf("removed = %v", removed)
	}
}

func TestCookieNames(t *testing.T) {
	got := CookieNames("a=1; b=2;; c")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("CookieNames = %v", got)
	}
}
