package attribution

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"privacyspace/internal/domain"
)

func TestCompanyForDomain(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"stats.g.doubleclick.net", "Google"},
		{"www.google-analytics.com", "Google"},
		{"connect.facebook.net", "Facebook"},
		{"static.fbcdn.net", "Facebook"},
		{"aax.amazon-adsystem.com", "Amazon"},
		{"bat.bing.com", "Microsoft"},
		{"login.live.com", "Microsoft"},
		{"t.co", "Twitter"},
		{"microsoft.com", Unknown},
		{"sc.omtrdc.net", "Adobe"},
		{"tags.bluekai.com", "Oracle"},
		{"pi.pardot.com", "Salesforce"},
		{"example.org", Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.subject, func(t *testing.T) {
			if got := CompanyForDomain(tc.subject); got != tc.want {
				t.Fatalf("CompanyForDomain(%q) = %q, want %q", tc.subject, got, tc.want)
			}
		})
	}
}

func TestCompanyForOrganization(t *testing.T) {
	if got := companyForOrganization("GOOGLE-CLOUD-PLATFORM"); got != "Google" {
		t.Fatalf("got %q, want Google", got)
	}
	if got := companyForOrganization("Meta Platforms, Inc."); got != "Facebook" {
		t.Fatalf("got %q, want Facebook", got)
	}
	if got := companyForOrganization(" Hetzner Online GmbH "); got != "Hetzner Online GmbH" {
		t.Fatalf("got %q, want organisation name", got)
	}
}

func TestAttributorWithoutASNDatabase(t *testing.T) {
	db, err := OpenASNDatabase(t.TempDir())
	if err != nil {
		t.Fatalf("OpenASNDatabase returned %v", err)
	}
	if db.Loaded() {
		t.Fatal("database reported loaded without a file")
	}

	a := NewAttributor(db)
	if got := a.Company("203.0.113.9", domain.KindIP); got != "" {
		t.Fatalf("IP company = %q, want empty", got)
	}
	if got := a.Company("example.org", domain.KindDomain); got != "" {
		t.Fatalf("unknown domain company = %q, want empty", got)
	}
	if got := a.Company("ad.doubleclick.net", domain.KindDomain); got != "Google" {
		t.Fatalf("domain company = %q, want Google", got)
	}
}

func TestUpdaterRequiresLicenseKey(t *testing.T) {
	db, _ := OpenASNDatabase(t.TempDir())
	if err := NewUpdater(db, " ").Update(context.Background()); !errors.Is(err, ErrNoLicenseKey) {
		t.Fatalf("Update = %v, want ErrNoLicenseKey", err)
	}
}

func TestUpdaterRejectsArchiveWithoutDatabase(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("readme")
	_ = tw.WriteHeader(&tar.Header{Name: "GeoLite2-ASN_20240101/README.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg})
	_, _ = tw.Write(body)
	_ = tw.Close()
	_ = gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("edition_id") != asnEditionID {
			t.Errorf("edition_id = %q", r.URL.Query().Get("edition_id"))
		}
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	db, _ := OpenASNDatabase(t.TempDir())
	u := NewUpdater(db, "key")
	u.baseURL = srv.URL

	if err := u.Update(context.Background()); err == nil {
		t.Fatal("Update succeeded for an archive without the mmdb file")
	}
}
