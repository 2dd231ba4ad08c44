package engine

import (
	"net/url"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/models"
)

// trackingParams are query parameters that never identify a resource.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"ref":     {},
	"ref_src": {},
	"si":      {},
}

// Normalize canonicalizes a finding value so equal real-world facts compare equal.
func Normalize(kind models.FindingKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case models.KindEmail:
		return strings.ToLower(value)
	case models.KindPhoneInfo:
		if digits := digitsOnly(value); digits != "" {
			return digits
		}
	case models.KindSubdomain:
		return strings.TrimSuffix(strings.ToLower(value), ".")
	}
	if u, ok := normalizeURL(value); ok {
		return u
	}
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

func normalizeURL(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.HasPrefix(lower, "www."):
		raw = "https://" + raw
	default:
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment, u.RawFragment = "", ""

	query := u.Query()
	for key := range query {
		k := strings.ToLower(key)
		if _, ok := trackingParams[k]; ok || strings.HasPrefix(k, "utm_") {
			query.Del(key)
		}
	}
	// Encode sorts by key.
	u.RawQuery = query.Encode()
	u.ForceQuery = false
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return strings.ToLower(u.String()), true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// urlParts splits a normalized URL into host and the value without its query.
func urlParts(normalized string) (host, bare string, ok bool) {
	if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
		return "", "", false
	}
	bare, _, _ = strings.Cut(normalized, "?")
	rest := bare[strings.Index(bare, "://")+3:]
	host, _, _ = strings.Cut(rest, "/")
	return host, bare, true
}
