package aliyun

import (
	"context"
	"fmt"
	"slices"
	"strings"

	alidns "github.com/alibabacloud-go/alidns-20150109/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

func init() {
	dns.Register("aliyun", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

const pageSize = 500

// api is the part of the Alibaba Cloud DNS client the provider uses.
type api interface {
	DescribeDomains(*alidns.DescribeDomainsRequest) (*alidns.DescribeDomainsResponse, error)
	DescribeDomainRecords(*alidns.DescribeDomainRecordsRequest) (*alidns.DescribeDomainRecordsResponse, error)
	AddDomainRecord(*alidns.AddDomainRecordRequest) (*alidns.AddDomainRecordResponse, error)
	DeleteDomainRecord(*alidns.DeleteDomainRecordRequest) (*alidns.DeleteDomainRecordResponse, error)
}

// Provider implements dns.Provider for Alibaba Cloud DNS.
type Provider struct {
	client api
	log    logr.Logger
	ttl    int
	dryRun bool
	only   []string
	zones  []string
	// ids maps "name/type/value" to record IDs from the last listing.
	ids map[string][]string
}

// New creates an Aliyun provider from the given settings map.
// Required settings: access_key_id, access_key_secret.
// Optional settings: ttl (default 600), zones, endpoint.
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	keyID := settings["access_key_id"]
	if keyID == "" {
		return nil, fmt.Errorf("aliyun: missing required setting 'access_key_id'")
	}
	secret := settings["access_key_secret"]
	if secret == "" {
		return nil, fmt.Errorf("aliyun: missing required setting 'access_key_secret'")
	}
	ttl, err := dns.ParseTTL(settings["ttl"], 600)
	if err != nil {
		return nil, fmt.Errorf("aliyun: %w", err)
	}

	endpoint := settings["endpoint"]
	if endpoint == "" {
		endpoint = "dns.aliyuncs.com"
	}
	client, err := alidns.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(keyID),
		AccessKeySecret: tea.String(secret),
		Endpoint:        tea.String(endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("aliyun: create dns client: %w", err)
	}

	return newWithClient(client, log, ttl, settings["zones"]), nil
}

func newWithClient(client api, log logr.Logger, ttl int, zones string) *Provider {
	p := &Provider{client: client, log: log, ttl: ttl, ids: make(map[string][]string)}
	for _, z := range strings.Split(zones, ",") {
		if z = dns.NormalizeName(strings.TrimSpace(z)); z != "" {
			p.only = append(p.only, z)
		}
	}
	return p
}

func (p *Provider) Name() string { return "aliyun" }

// SetDryRun makes every write a logged no-op.
func (p *Provider) SetDryRun(dryRun bool) { p.dryRun = dryRun }

func idKey(name, typ, value string) string {
	return name + "/" + typ + "/" + value
}

func (p *Provider) loadZones(ctx context.Context) error {
	if p.zones != nil {
		return nil
	}
	zones := []string{}
	for page := int64(1); ; page++ {
		var resp *alidns.DescribeDomainsResponse
		err := dns.Retry(ctx, func() (err error) {
			resp, err = p.client.DescribeDomains(&alidns.DescribeDomainsRequest{
				PageNumber: tea.Int64(page),
				PageSize:   tea.Int64(pageSize),
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("aliyun: list domains: %w", err)
		}
		if resp.Body == nil || resp.Body.Domains == nil || len(resp.Body.Domains.Domain) == 0 {
			break
		}
		for _, d := range resp.Body.Domains.Domain {
			name := dns.NormalizeName(tea.StringValue(d.DomainName))
			if len(p.only) == 0 || slices.Contains(p.only, name) {
				zones = append(zones, name)
			}
		}
		if page*pageSize >= tea.Int64Value(resp.Body.TotalCount) {
			break
		}
	}
	slices.Sort(zones)
	p.zones = zones
	return nil
}

func (p *Provider) Records(ctx context.Context) ([]dns.Record, error) {
	if err := p.loadZones(ctx); err != nil {
		return nil, err
	}
	p.ids = make(map[string][]string)
	var records []dns.Record
	for _, zone := range p.zones {
		recs, err := p.listZone(ctx, zone)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (p *Provider) listZone(ctx context.Context, zone string) ([]dns.Record, error) {
	var records []dns.Record
	for page := int64(1); ; page++ {
		var resp *alidns.DescribeDomainRecordsResponse
		err := dns.Retry(ctx, func() (err error) {
			resp, err = p.client.DescribeDomainRecords(&alidns.DescribeDomainRecordsRequest{
				DomainName: tea.String(zone),
				PageNumber: tea.Int64(page),
				PageSize:   tea.Int64(pageSize),
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("aliyun: list records of %s: %w", zone, err)
		}
		if resp.Body == nil || resp.Body.DomainRecords == nil || len(resp.Body.DomainRecords.Record) == 0 {
			break
		}
		for _, r := range resp.Body.DomainRecords.Record {
			typ := tea.StringValue(r.Type)
			if typ != dns.TypeA && typ != dns.TypeAAAA && typ != dns.TypeTXT {
				continue
			}
			rec := dns.Record{
				Hostname: dns.NormalizeName(dns.FullName(tea.StringValue(r.RR), zone)),
				Type:     typ,
				Value:    tea.StringValue(r.Value),
				TTL:      int(tea.Int64Value(r.TTL)),
				ID:       tea.StringValue(r.RecordId),
			}
			if typ == dns.TypeTXT {
				rec.Value = dns.UnquoteTXT(rec.Value)
			}
			records = append(records, rec)
			key := idKey(rec.Hostname, rec.Type, rec.Value)
			if !slices.Contains(p.ids[key], rec.ID) {
				p.ids[key] = append(p.ids[key], rec.ID)
			}
		}
		if page*pageSize >= tea.Int64Value(resp.Body.TotalCount) {
			break
		}
	}
	return records, nil
}

func (p *Provider) zoneFor(ctx context.Context, hostname string) (string, error) {
	if err := p.loadZones(ctx); err != nil {
		return "", err
	}
	zone, ok := dns.ZoneFor(hostname, p.zones)
	if !ok {
		return "", fmt.Errorf("aliyun: no zone found for %s", hostname)
	}
	return zone, nil
}

func (p *Provider) create(ctx context.Context, rec dns.Record) error {
	if p.dryRun {
		p.log.Info("dry-run: would create record", "record", rec.String())
		return nil
	}
	zone, err := p.zoneFor(ctx, rec.Hostname)
	if err != nil {
		return err
	}
	ttl := rec.TTL
	if ttl == 0 {
		ttl = p.ttl
	}

	err = dns.RetryCreate(ctx, func() error {
		_, err := p.client.AddDomainRecord(&alidns.AddDomainRecordRequest{
			DomainName: tea.String(zone),
			RR:         tea.String(dns.RelativeName(rec.Hostname, zone)),
			Type:       tea.String(rec.Type),
			Value:      tea.String(rec.Value),
			TTL:        tea.Int64(int64(ttl)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("aliyun: create record: %w", err)
	}
	p.log.Info("record created", "record", rec.String())
	return nil
}

func (p *Provider) remove(ctx context.Context, rec dns.Record) error {
	if p.dryRun {
		p.log.Info("dry-run: would delete record", "record", rec.String())
		return nil
	}
	zone, err := p.zoneFor(ctx, rec.Hostname)
	if err != nil {
		return err
	}

	key := idKey(rec.Hostname, rec.Type, rec.Value)
	if len(p.ids[key]) == 0 {
		if _, err := p.listZone(ctx, zone); err != nil {
			return err
		}
	}
	ids := p.ids[key]
	if len(ids) == 0 {
		return fmt.Errorf("aliyun: record %s not found", rec)
	}

	for _, id := range ids {
		err := dns.Retry(ctx, func() error {
			_, err := p.client.DeleteDomainRecord(&alidns.DeleteDomainRecordRequest{RecordId: tea.String(id)})
			return err
		})
		if err != nil {
			return fmt.Errorf("aliyun: delete record %s: %w", id, err)
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
