package config

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

// NameSet is a list of exact domain names and "*.suffix" wildcards.
type NameSet struct {
	entries sets.Set[string]
}

// NewNameSet builds a NameSet from patterns. A wildcard is only allowed as
// the whole leftmost label.
func NewNameSet(patterns []string) (*NameSet, error) {
	entries := sets.New[string]()
	for _, p := range patterns {
		name := dns.NormalizeName(strings.TrimSpace(p))
		if name == "" || name == "*" {
			return nil, fmt.Errorf("invalid name pattern %q", p)
		}
		if strings.Contains(strings.TrimPrefix(name, "*."), "*") {
			return nil, fmt.Errorf("invalid name pattern %q: wildcard must be the leftmost label", p)
		}
		entries.Insert(name)
	}
	return &NameSet{entries: entries}, nil
}

// Match reports whether hostname is in the set. It walks up the domain labels
// checking for exact entries and wildcard entries. For example, given:
//
//	"*.mydomain.com"
//	"app2.other.com"
//
// "app1.mydomain.com" and "deep.app1.mydomain.com" match the wildcard,
// "app2.other.com" matches exactly, "mydomain.com" does not match.
func (ns *NameSet) Match(hostname string) bool {
	if ns == nil {
		return false
	}
	hostname = dns.NormalizeName(hostname)
	if ns.entries.Has(hostname) {
		return true
	}
	for h := hostname; h != ""; {
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		if ns.entries.Has("*." + h[idx+1:]) {
			return true
		}
		h = h[idx+1:]
	}
	return false
}

// Patterns returns all configured patterns, sorted.
func (ns *NameSet) Patterns() []string {
	return sets.List(ns.entries)
}
