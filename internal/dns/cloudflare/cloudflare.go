package cloudflare

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	cf "github.com/cloudflare/cloudflare-go/v2"
	cfdns "github.com/cloudflare/cloudflare-go/v2/dns"
	"github.com/cloudflare/cloudflare-go/v2/option"
	"github.com/cloudflare/cloudflare-go/v2/zones"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

func init() {
	dns.Register("cloudflare", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

type recordKey struct {
	name, typ, value string
}

// Provider implements dns.Provider for Cloudflare DNS.
type Provider struct {
	client  *cf.Client
	log     logr.Logger
	ttl     int
	proxied bool
	dryRun  bool

	// only restricts the zones considered when non-empty.
	only []string
	// zones maps zone name to zone ID, loaded on first use.
	zones map[string]string
	// ids maps records seen by the last listing to their Cloudflare IDs.
	ids map[recordKey][]string
}

// New creates a Cloudflare provider from the given settings map.
// Required settings: api_token.
// Optional settings: ttl (default 1, automatic), proxied (default false),
// zones (comma separated zone names), base_url.
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	token := settings["api_token"]
	if token == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'api_token'")
	}

	ttl, err := dns.ParseTTL(settings["ttl"], 1)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: %w", err)
	}

	proxied := false
	if v := settings["proxied"]; v != "" {
		if proxied, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("cloudflare: invalid proxied %q: %w", v, err)
		}
	}

	opts := []option.RequestOption{
		option.WithAPIToken(token),
		// Retries are handled by dns.Retry.
		option.WithMaxRetries(0),
	}
	if v := settings["base_url"]; v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}

	var only []string
	for _, z := range strings.Split(settings["zones"], ",") {
		if z = dns.NormalizeName(strings.TrimSpace(z)); z != "" {
			only = append(only, z)
		}
	}

	return &Provider{
		client:  cf.NewClient(opts...),
		log:     log,
		ttl:     ttl,
		proxied: proxied,
		only:    only,
		ids:     make(map[recordKey][]string),
	}, nil
}

func (p *Provider) Name() string { return "cloudflare" }

// SetDryRun makes every write a logged no-op.
func (p *Provider) SetDryRun(dryRun bool) { p.dryRun = dryRun }

func (p *Provider) loadZones(ctx context.Context) error {
	if p.zones != nil {
		return nil
	}
	found := make(map[string]string)
	err := dns.Retry(ctx, func() error {
		pager := p.client.Zones.ListAutoPaging(ctx, zones.ZoneListParams{})
		for pager.Next() {
			z := pager.Current()
			name := dns.NormalizeName(z.Name)
			if len(p.only) == 0 || slices.Contains(p.only, name) {
				found[name] = z.ID
			}
		}
		return pager.Err()
	})
	if err != nil {
		return fmt.Errorf("cloudflare: list zones: %w", err)
	}
	p.zones = found
	p.log.V(1).Info("loaded zones", "count", len(found))
	return nil
}

func (p *Provider) zoneNames() []string {
	names := make([]string, 0, len(p.zones))
	for name := range p.zones {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (p *Provider) zoneFor(ctx context.Context, hostname string) (string, error) {
	if err := p.loadZones(ctx); err != nil {
		return "", err
	}
	zone, ok := dns.ZoneFor(hostname, p.zoneNames())
	if !ok {
		return "", fmt.Errorf("cloudflare: no zone found for %s", hostname)
	}
	return p.zones[zone], nil
}

// Records lists the A, AAAA and TXT records of every accessible zone.
func (p *Provider) Records(ctx context.Context) ([]dns.Record, error) {
	if err := p.loadZones(ctx); err != nil {
		return nil, err
	}

	p.ids = make(map[recordKey][]string)
	var records []dns.Record
	for _, zone := range p.zoneNames() {
		recs, err := p.listZone(ctx, p.zones[zone])
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (p *Provider) listZone(ctx context.Context, zoneID string) ([]dns.Record, error) {
	var records []dns.Record
	err := dns.Retry(ctx, func() error {
		records = records[:0]
		pager := p.client.DNS.Records.ListAutoPaging(ctx, cfdns.RecordListParams{
			ZoneID: cf.F(zoneID),
		})
		for pager.Next() {
			r := pager.Current()
			typ := string(r.Type)
			if typ != dns.TypeA && typ != dns.TypeAAAA && typ != dns.TypeTXT {
				continue
			}
			content, _ := r.Content.(string)
			if typ == dns.TypeTXT {
				content = dns.UnquoteTXT(content)
			}
			records = append(records, dns.Record{
				Hostname: dns.NormalizeName(r.Name),
				Type:     typ,
				Value:    content,
				TTL:      int(r.TTL),
				ID:       r.ID,
			})
		}
		return pager.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("cloudflare: list records: %w", err)
	}

	for _, r := range records {
		key := recordKey{r.Hostname, r.Type, r.Value}
		if !slices.Contains(p.ids[key], r.ID) {
			p.ids[key] = append(p.ids[key], r.ID)
		}
	}
	return records, nil
}

func (p *Provider) create(ctx context.Context, rec dns.Record) error {
	if p.dryRun {
		p.log.Info("dry-run: would create record", "record", rec.String())
		return nil
	}

	zoneID, err := p.zoneFor(ctx, rec.Hostname)
	if err != nil {
		return err
	}

	ttl := rec.TTL
	if ttl == 0 {
		ttl = p.ttl
	}

	var params cfdns.RecordNewParams
	switch rec.Type {
	case dns.TypeA:
		params = cfdns.RecordNewParams{
			ZoneID: cf.F(zoneID),
			Record: cfdns.ARecordParam{
				Name:    cf.F(rec.Hostname),
				Type:    cf.F(cfdns.ARecordTypeA),
				Content: cf.F(rec.Value),
				Proxied: cf.F(p.proxied),
				TTL:     cf.F(cfdns.TTL(ttl)),
			},
		}
	case dns.TypeTXT:
		params = cfdns.RecordNewParams{
			ZoneID: cf.F(zoneID),
			Record: cfdns.TXTRecordParam{
				Name:    cf.F(rec.Hostname),
				Type:    cf.F(cfdns.TXTRecordTypeTXT),
				Content: cf.F(rec.Value),
				TTL:     cf.F(cfdns.TTL(ttl)),
			},
		}
	default:
		return fmt.Errorf("cloudflare: unsupported record type %q", rec.Type)
	}

	err = dns.RetryCreate(ctx, func() error {
		_, err := p.client.DNS.Records.New(ctx, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("cloudflare: create record: %w", err)
	}
	p.log.Info("record created", "record", rec.String())
	return nil
}

func (p *Provider) remove(ctx context.Context, rec dns.Record) error {
	if p.dryRun {
		p.log.Info("dry-run: would delete record", "record", rec.String())
		return nil
	}

	zoneID, err := p.zoneFor(ctx, rec.Hostname)
	if err != nil {
		return err
	}

	key := recordKey{rec.Hostname, rec.Type, rec.Value}
	ids := p.ids[key]
	if len(ids) == 0 {
		// Created after the last listing.
		if _, err := p.listZone(ctx, zoneID); err != nil {
			return err
		}
		ids = p.ids[key]
	}
	if len(ids) == 0 {
		return fmt.Errorf("cloudflare: record %s not found", rec)
	}

	for _, id := range ids {
		err := dns.Retry(ctx, func() error {
			_, err := p.client.DNS.Records.Delete(ctx, id, cfdns.RecordDeleteParams{
				ZoneID: cf.F(zoneID),
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("cloudflare: delete record %s: %w", id, err)
		}
	}
	delete(p.ids, key)
	p.log.Info("record deleted", "record", rec.String())
	return nil
}

func (p *Provider) CreateTXT(ctx context.Context, hostname, content string) error {
	return p.create(ctx, dns.TXTRecord(hostname, content))
}

func (p *Provider) DeleteTXT(ctx context.Context, hostname, content string) error {
	return p.remove(ctx, dns.TXTRecord(hostname, content))
}

func (p *Provider) ApplyPlan(ctx context.Context, plan *dns.Plan) []error {
	return dns.ApplySequential(ctx, plan, p.create, p.remove)
}
