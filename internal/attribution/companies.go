// Package attribution names the company behind a tracker subject.
package attribution

import (
	"strings"

	"privacyspace/internal/domain"
)

const Unknown = "Unknown"

type companyRule struct {
	name      string
	fragments []string
	// domains match only as whole registrable suffixes.
	domains []string
}

// Checked in order; the first match wins.
var companyRules = []companyRule{
	{name: "Google", fragments: []string{"google-analytics", "doubleclick", "googletagmanager", "googlesyndication", "googleadservices"}},
	{name: "Facebook", fragments: []string{"facebook", "fbcdn", "fbsbx"}},
	{name: "Amazon", fragments: []string{"amazon-adsystem", "amazonpay"}},
	{name: "Microsoft", fragments: []string{"bing", "msn", "clarity.ms"}, domains: []string{"live.com"}},
	{name: "Twitter", fragments: []string{"twitter", "twimg"}, domains: []string{"t.co"}},
	{name: "Adobe", fragments: []string{"adobe", "omtrdc", "demdex"}},
	{name: "Oracle", fragments: []string{"bluekai", "eloqua"}},
	{name: "Salesforce", fragments: []string{"salesforce", "pardot"}},
}

// asnCompanies maps fragments of ASN organisation names to the names the
// domain table uses.
var asnCompanies = []struct {
	fragment string
	name     string
}{
	{"google", "Google"},
	{"facebook", "Facebook"},
	{"meta platforms", "Facebook"},
	{"amazon", "Amazon"},
	{"microsoft", "Microsoft"},
	{"twitter", "Twitter"},
	{"adobe", "Adobe"},
	{"oracle", "Oracle"},
}

// CompanyForDomain returns the company whose fragment appears in subject.
func CompanyForDomain(subject string) string {
	lower := strings.ToLower(subject)
	for _, rule := range companyRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(lower, fragment) {
				return rule.name
			}
		}
		for _, d := range rule.domains {
			if lower == d || strings.HasSuffix(lower, "."+d) {
				return rule.name
			}
		}
	}
	return Unknown
}

func companyForOrganization(org string) string {
	lower := strings.ToLower(org)
	for _, entry := range asnCompanies {
		if strings.Contains(lower, entry.fragment) {
			return entry.name
		}
	}
	return strings.TrimSpace(org)
}

// Attributor resolves companies for the aggregator and returns "" when the
// company is unknown. IP subjects go through the GeoLite ASN database when
// one is loaded.
type Attributor struct {
	asn *ASNDatabase
}

func NewAttributor(asn *ASNDatabase) *Attributor {
	return &Attributor{asn: asn}
}

func (a *Attributor) Company(subject string, kind domain.SubjectKind) string {
	switch kind {
	case domain.KindDomain:
		if company := CompanyForDomain(subject); company != Unknown {
			return company
		}
	case domain.KindIP:
		if a == nil || a.asn == nil {
			return ""
		}
		if org, ok := a.asn.Organization(subject); ok && org != "" {
			return companyForOrganization(org)
		}
	}
	return ""
}
