package dns

import (
	"net/netip"
	"slices"
)

// Record types handled by the helper. Providers drop everything else when
// reading a zone.
const (
	TypeA    = "A"
	TypeAAAA = "AAAA"
	TypeTXT  = "TXT"
)

// Record is a single DNS record as read from or written to a provider.
type Record struct {
	Hostname string // FQDN without trailing dot, e.g. "app.example.com"
	Type     string // "A", "AAAA", "TXT"
	Value    string // address literal or TXT content
	TTL      int    // 0 = provider default
	ID       string // provider-assigned ID, empty for records not yet created
}

// ARecord builds an A record for hostname pointing at addr.
func ARecord(hostname string, addr netip.Addr) Record {
	return Record{Hostname: hostname, Type: TypeA, Value: addr.String()}
}

// TXTRecord builds a TXT record carrying content.
func TXTRecord(hostname, content string) Record {
	return Record{Hostname: hostname, Type: TypeTXT, Value: content}
}

func (r Record) String() string {
	return r.Hostname + ": " + r.Type + " " + r.Value
}

// Domain groups every record observed for one name.
type Domain struct {
	Name string
	A    []netip.Addr
	AAAA []netip.Addr
	TXT  []string
}

// Add folds rec into the aggregate. Records for other names and values that
// do not parse for their type are ignored.
func (d *Domain) Add(rec Record) {
	if rec.Hostname != d.Name {
		return
	}
	switch rec.Type {
	case TypeA:
		if addr, err := netip.ParseAddr(rec.Value); err == nil && addr.Is4() {
			d.A = append(d.A, addr)
		}
	case TypeAAAA:
		if addr, err := netip.ParseAddr(rec.Value); err == nil && addr.Is6() && !addr.Is4In6() {
			d.AAAA = append(d.AAAA, addr)
		}
	case TypeTXT:
		d.TXT = append(d.TXT, rec.Value)
	}
}

// HasA reports whether addr is one of the domain's A records.
func (d Domain) HasA(addr netip.Addr) bool {
	return slices.Contains(d.A, addr)
}

// Clone returns a deep copy of d.
func (d Domain) Clone() Domain {
	return Domain{
		Name: d.Name,
		A:    slices.Clone(d.A),
		AAAA: slices.Clone(d.AAAA),
		TXT:  slices.Clone(d.TXT),
	}
}

// Plan is the set of address record changes computed for one pass.
// Create actions are applied before delete actions.
type Plan struct {
	Create []Record
	Delete []Record
	// Release lists owned names that are no longer managed. Their markers
	// are removed once every delete for the name has succeeded.
	Release []string
}

// Empty reports whether the plan has no actions and nothing to release.
func (p *Plan) Empty() bool {
	return p == nil || (len(p.Create) == 0 && len(p.Delete) == 0 && len(p.Release) == 0)
}

// Len returns the number of actions in the plan.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Create) + len(p.Delete)
}

// Actions returns the plan's records in submission order: creates, then deletes.
func (p *Plan) Actions() []Record {
	if p == nil {
		return nil
	}
	out := make([]Record, 0, p.Len())
	out = append(out, p.Create...)
	return append(out, p.Delete...)
}

// Clone returns a deep copy of p.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	return &Plan{
		Create:  slices.Clone(p.Create),
		Delete:  slices.Clone(p.Delete),
		Release: slices.Clone(p.Release),
	}
}
