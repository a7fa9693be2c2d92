// Package plan computes the address record changes needed to point every
// managed domain at the target IPv4 address.
package plan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"k8s.io/apimachinery/pkg/util/sets"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/registry"
)

// Generate claims every managed domain in reg and returns the actions that
// converge the owned ones to target. Claims are the only provider writes made
// here; address changes are left to Provider.ApplyPlan.
//
// A domain that belongs to someone else is skipped without failing the pass.
// A provider error while claiming aborts generation.
func Generate(ctx context.Context, reg *registry.Registry, target netip.Addr, policy Policy) (*dns.Plan, error) {
	log := logf.FromContext(ctx)

	if !target.Is4() {
		return nil, fmt.Errorf("target address %s is not IPv4", target)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	managed := Managed(reg, policy)
	p := &dns.Plan{}

	for _, name := range sets.List(managed) {
		err := reg.Claim(ctx, name)
		switch {
		case err == nil:
		case errors.Is(err, registry.ErrConflict):
			log.V(1).Info("domain owned by someone else, skipping", "domain", name)
			continue
		case errors.Is(err, registry.ErrNotFound):
			log.Info("domain vanished from registry, skipping", "domain", name)
			continue
		default:
			return nil, err
		}

		d, _, _ := reg.Domain(name)
		converge(p, d, target, policy.Mode)
	}

	// Only names leaving the managed set are released. A managed domain
	// keeps its marker even when a pass only deletes stale addresses.
	if policy.Mode == ModeSync {
		for _, d := range reg.OwnedDomains() {
			if managed.Has(d.Name) {
				continue
			}
			for _, addr := range d.A {
				p.Delete = append(p.Delete, dns.ARecord(d.Name, addr))
			}
			p.Release = append(p.Release, d.Name)
		}
	}

	return p, nil
}

// Managed returns the registry names selected by policy. Names that are not
// in the registry are never selected.
func Managed(reg *registry.Registry, policy Policy) sets.Set[string] {
	managed := sets.New[string]()
	for _, name := range reg.Names() {
		d, _, _ := reg.Domain(name)
		if policy.Manages(d) {
			managed.Insert(name)
		}
	}
	return managed
}

func converge(p *dns.Plan, d dns.Domain, target netip.Addr, mode Mode) {
	if mode == ModeCreateOnly {
		if len(d.A) == 0 {
			p.Create = append(p.Create, dns.ARecord(d.Name, target))
		}
		return
	}

	if !d.HasA(target) {
		p.Create = append(p.Create, dns.ARecord(d.Name, target))
	}
	for _, addr := range d.A {
		if addr != target {
			p.Delete = append(p.Delete, dns.ARecord(d.Name, addr))
		}
	}
}
