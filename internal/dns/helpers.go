package dns

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// SplitHostname splits an FQDN into subdomain and domain parts.
// e.g. "app.example.com" → ("app", "example.com")
// e.g. "sub.app.example.com" → ("sub", "app.example.com")
func SplitHostname(fqdn string) (hostname, domain string) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	parts := strings.SplitN(fqdn, ".", 2)
	if len(parts) < 2 {
		return fqdn, ""
	}
	return parts[0], parts[1]
}

// NormalizeName lower-cases an FQDN and strips the trailing dot.
func NormalizeName(fqdn string) string {
	return strings.ToLower(strings.TrimSuffix(fqdn, "."))
}

// FullName joins a zone-relative name with its zone. "@" and "" denote the apex.
func FullName(sub, zone string) string {
	if sub == "@" || sub == "" {
		return zone
	}
	return sub + "." + zone
}

// RelativeName returns fqdn relative to zone, "@" for the apex.
func RelativeName(fqdn, zone string) string {
	if fqdn == zone {
		return "@"
	}
	return strings.TrimSuffix(fqdn, "."+zone)
}

// ZoneFor returns the longest zone in zones that contains fqdn.
func ZoneFor(fqdn string, zones []string) (string, bool) {
	best := ""
	for _, z := range zones {
		if (fqdn == z || strings.HasSuffix(fqdn, "."+z)) && len(z) > len(best) {
			best = z
		}
	}
	return best, best != ""
}

// UnquoteTXT strips the surrounding double quotes some APIs add to TXT content.
func UnquoteTXT(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

var validTTLs = []int{1, 5, 10, 20, 30, 60, 120, 180, 300, 600, 900, 1800, 3600, 7200, 18000, 43200, 86400}

// ParseTTL parses a TTL setting and rounds it down to the nearest TTL the
// hosted DNS APIs accept. An empty string yields def.
func ParseTTL(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	ttl, err := strconv.Atoi(v)
	if err != nil || ttl < 0 {
		return 0, fmt.Errorf("invalid ttl %q", v)
	}
	idx, found := slices.BinarySearch(validTTLs, ttl)
	if found {
		return ttl, nil
	}
	if idx > 0 {
		return validTTLs[idx-1], nil
	}
	return validTTLs[0], nil
}
