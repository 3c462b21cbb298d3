package observation

import (
	"net/http"
	"strings"
)

// FilterCookieHeader drops tracking cookies from a Cookie request header.
// removed lists the names that were stripped.
func (n *Normalizer) FilterCookieHeader(header string) (filtered string, removed []string) {
	if strings.TrimSpace(header) == "" {
		return header, nil
	}

	parts := strings.Split(header, ";")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		pair := strings.TrimSpace(part)
		if pair == "" {
			continue
		}
		name, _, _ := strings.Cut(pair, "=")
		if n.IsTrackingCookie(name) {
			removed = append(removed, strings.TrimSpace(name))
			continue
		}
		kept = append(kept, pair)
	}

	return strings.Join(kept, "; "), removed
}

// FilterSetCookies drops Set-Cookie response values that set tracking
// cookies. Values that do not parse are kept as they are.
func (n *Normalizer) FilterSetCookies(values []string) (kept []string, removed []string) {
	kept = make([]string, 0, len(values))
	for _, value := range values {
		cookie, err := http.ParseSetCookie(value)
		if err != nil {
			kept = append(kept, value)
			continue
		}
		if n.IsTrackingCookie(cookie.Name) {
			removed = append(removed, cookie.Name)
			continue
		}
		kept = append(kept, value)
	}
	return kept, removed
}

// CookieNames lists the cookie names in a Cookie header.
func CookieNames(header string) []string {
	var names []string
	for _, part := range strings.Split(header, ";") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
