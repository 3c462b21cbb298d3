package domain

import (
	"net/netip"
	"net/url"
	"strings"
)

type SubjectKind string

const (
	KindDomain SubjectKind = "domain"
	KindIP     SubjectKind = "ip"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

func (k SubjectKind) Valid() bool {
	return k == KindDomain || k == KindIP
}

// SubjectKey identifies a subject. Domains and IPs never share a key even if
// their string forms were to collide.
type SubjectKey struct {
	Kind    SubjectKind
	Subject string
}

func (k SubjectKey) String() string {
	return string(k.Kind) + ":" + k.Subject
}

// NormalizeSubject turns a URL, host, host:port or IP literal into its canonical
// subject form. ok is false when no subject can be derived.
func NormalizeSubject(raw string) (string, SubjectKind, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", false
	}

	if addr, ok := canonicalIP(trimmed); ok {
		return addr, KindIP, true
	}
	if ap, err := netip.ParseAddrPort(trimmed); err == nil {
		return canonicalAddr(ap.Addr()), KindIP, true
	}

	// Allow bare hostnames by prefixing a scheme for URL parsing.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", "", false
	}

	host := strings.Trim(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return "", "", false
	}

	if addr, ok := canonicalIP(host); ok {
		return addr, KindIP, true
	}
	return host, KindDomain, true
}

func canonicalIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	return canonicalAddr(addr), true
}

func canonicalAddr(addr netip.Addr) string {
	return addr.Unmap().WithZone("").String()
}

// IsLoopback reports whether the subject refers to the local machine.
func IsLoopback(subject string, kind SubjectKind) bool {
	switch kind {
	case KindIP:
		addr, err := netip.ParseAddr(subject)
		return err == nil && (addr.IsLoopback() || addr.IsUnspecified())
	case KindDomain:
		return subject == "localhost" || strings.HasSuffix(subject, ".localhost")
	default:
		return false
	}
}

// ValidateSubject checks that subject is already in canonical form for kind.
func ValidateSubject(subject string, kind SubjectKind) error {
	switch kind {
	case KindIP:
		addr, err := netip.ParseAddr(subject)
		if err != nil {
			return &ValidationError{Field: "subject", Reason: "not an IP address"}
		}
		if canonicalAddr(addr) != subject {
			return &ValidationError{Field: "subject", Reason: "IP address not in canonical form"}
		}
		return nil
	case KindDomain:
		return validateDomain(subject)
	default:
		return &ValidationError{Field: "subject_kind", Reason: "unknown subject kind"}
	}
}

func validateDomain(subject string) error {
	if subject == "" || len(subject) > maxDomainLength {
		return &ValidationError{Field: "subject", Reason: "domain length out of range"}
	}
	if _, err := netip.ParseAddr(subject); err == nil {
		return &ValidationError{Field: "subject", Reason: "IP address reported as domain"}
	}

	labels := strings.Split(subject, ".")
	if len(labels) < 2 {
		return &ValidationError{Field: "subject", Reason: "domain needs at least two labels"}
	}

	for _, label := range labels {
		if len(label) == 0 || len(label) > maxLabelLength {
			return &ValidationError{Field: "subject", Reason: "domain label length out of range"}
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return &ValidationError{Field: "subject", Reason: "domain label starts or ends with hyphen"}
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
				continue
			}
			return &ValidationError{Field: "subject", Reason: "invalid character in domain"}
		}
	}

	tld := labels[len(labels)-1]
	if strings.Trim(tld, "0123456789") == "" {
		return &ValidationError{Field: "subject", Reason: "numeric top-level label"}
	}

	return nil
}

// ParentDomains returns subject followed by each parent domain that still has
// at least two labels: a.b.example.com -> [a.b.example.com b.example.com example.com].
func ParentDomains(subject string) []string {
	labels := strings.Split(subject, ".")
	if len(labels) < 2 {
		return []string{subject}
	}

	out := make([]string, 0, len(labels)-1)
	for i := 0; i <= len(labels)-2; i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	return out
}
