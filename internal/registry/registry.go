// Package registry decides which domains this instance may change.
//
// Ownership is stored in the zone itself as TXT marker records whose content
// is MarkerPrefix followed by the tenant name. Several instances with
// different tenants can share one zone without any coordinator; a domain is
// only ever touched when its markers unambiguously name this tenant.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

// MarkerPrefix starts every ownership TXT record. It is part of the wire
// format shared by all instances and must not change.
const MarkerPrefix = "yk-ddns-helper/tenant="

var (
	// ErrNotFound is returned for names that are not in the registry.
	ErrNotFound = errors.New("domain not in registry")
	// ErrConflict is returned when a domain belongs to someone else.
	ErrConflict = errors.New("domain owned by someone else")
)

// Ownership is the registry's view of who controls a domain.
type Ownership int

const (
	// Taken domains are managed by someone else, or their ownership is unclear.
	Taken Ownership = iota
	// Owned domains carry exactly one marker and it is ours.
	Owned
	// Available domains have neither A records nor markers.
	Available
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "Owned"
	case Available:
		return "Available"
	default:
		return "Taken"
	}
}

type entry struct {
	domain    dns.Domain
	ownership Ownership
}

// Registry is an in-memory ownership view built from one snapshot of the
// provider's records. It is not safe for concurrent use.
type Registry struct {
	domains  map[string]*entry
	tenant   string
	provider dns.Provider
	log      logr.Logger
}

// New groups records by name and classifies each domain for tenant.
func New(records []dns.Record, tenant string, provider dns.Provider, log logr.Logger) *Registry {
	r := &Registry{
		domains:  make(map[string]*entry),
		tenant:   NormalizeTenant(tenant),
		provider: provider,
		log:      log,
	}
	for _, rec := range records {
		e, ok := r.domains[rec.Hostname]
		if !ok {
			// Taken until classified below.
			e = &entry{domain: dns.Domain{Name: rec.Hostname}, ownership: Taken}
			r.domains[rec.Hostname] = e
		}
		e.domain.Add(rec)
	}
	for _, e := range r.domains {
		e.ownership = r.classify(e.domain)
	}
	return r
}

// Marker returns the TXT content that marks tenant as owner.
func Marker(tenant string) string {
	return MarkerPrefix + NormalizeTenant(tenant)
}

// NormalizeTenant strips every occurrence of MarkerPrefix from tenant.
func NormalizeTenant(tenant string) string {
	return strings.ReplaceAll(tenant, MarkerPrefix, "")
}

func (r *Registry) marker() string {
	return MarkerPrefix + r.tenant
}

func (r *Registry) classify(d dns.Domain) Ownership {
	markers := sets.New[string]()
	for _, txt := range d.TXT {
		if strings.HasPrefix(txt, MarkerPrefix) {
			markers.Insert(txt)
		}
	}

	switch markers.Len() {
	case 0:
		if len(d.A) == 0 {
			return Available
		}
		// A records without a marker belong to whoever created them by hand.
		return Taken
	case 1:
		if markers.Has(r.marker()) {
			return Owned
		}
		return Taken
	default:
		r.log.Info("conflicting ownership markers, considering domain taken",
			"domain", d.Name, "markers", sets.List(markers))
		return Taken
	}
}

// Tenant returns the tenant used for marker comparisons and writes.
func (r *Registry) Tenant() string {
	return r.tenant
}

// SetTenant changes the tenant used for future claims and releases. Domains
// already in the registry keep their classification.
func (r *Registry) SetTenant(tenant string) {
	r.tenant = NormalizeTenant(tenant)
}

// Names returns every domain name in the registry, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Domain returns a copy of the named domain and its ownership.
func (r *Registry) Domain(name string) (dns.Domain, Ownership, bool) {
	e, ok := r.domains[name]
	if !ok {
		return dns.Domain{}, Taken, false
	}
	return e.domain.Clone(), e.ownership, true
}

// OwnedDomains returns copies of all domains owned by this tenant, sorted by name.
func (r *Registry) OwnedDomains() []dns.Domain {
	var owned []dns.Domain
	for _, name := range r.Names() {
		if e := r.domains[name]; e.ownership == Owned {
			owned = append(owned, e.domain.Clone())
		}
	}
	return owned
}

// Claim takes ownership of an Available domain by writing our marker.
// Claiming an Owned domain is a no-op.
func (r *Registry) Claim(ctx context.Context, name string) error {
	e, ok := r.domains[name]
	if !ok {
		return fmt.Errorf("claim %s: %w", name, ErrNotFound)
	}

	switch e.ownership {
	case Owned:
		r.log.V(1).Info("domain already owned, nothing to claim", "domain", name)
		return nil
	case Available:
		marker := r.marker()
		if err := r.provider.CreateTXT(ctx, name, marker); err != nil {
			return fmt.Errorf("unable to claim domain %s: %w", name, err)
		}
		e.ownership = Owned
		e.domain.TXT = append(e.domain.TXT, marker)
		r.log.V(1).Info("claimed domain", "domain", name)
		return nil
	default:
		return fmt.Errorf("claim %s: %w", name, ErrConflict)
	}
}

// Release gives up ownership of an Owned domain by deleting our marker.
// Releasing an Available domain is a no-op.
func (r *Registry) Release(ctx context.Context, name string) error {
	e, ok := r.domains[name]
	if !ok {
		return fmt.Errorf("release %s: %w", name, ErrNotFound)
	}

	switch e.ownership {
	case Available:
		r.log.V(1).Info("domain not owned by anyone, nothing to release", "domain", name)
		return nil
	case Owned:
		marker := r.marker()
		if err := r.provider.DeleteTXT(ctx, name, marker); err != nil {
			return fmt.Errorf("unable to release domain %s: %w", name, err)
		}
		e.ownership = Available
		e.domain.TXT = slices.DeleteFunc(e.domain.TXT, func(txt string) bool { return txt == marker })
		r.log.V(1).Info("released domain", "domain", name)
		return nil
	default:
		return fmt.Errorf("release %s: %w", name, ErrConflict)
	}
}
