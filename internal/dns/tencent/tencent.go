package tencent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	tcerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

func init() {
	dns.Register("tencent", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

const (
	pageSize = 3000
	// defaultLine is the DNSPod line every record is created on.
	defaultLine = "默认"
	// noRecords is returned by DescribeRecordList for an empty zone.
	noRecords = "ResourceNotFound.NoDataOfRecord"
)

// api is the part of the DNSPod client the provider uses.
type api interface {
	DescribeDomainListWithContext(context.Context, *dnspod.DescribeDomainListRequest) (*dnspod.DescribeDomainListResponse, error)
	DescribeRecordListWithContext(context.Context, *dnspod.DescribeRecordListRequest) (*dnspod.DescribeRecordListResponse, error)
	CreateRecordWithContext(context.Context, *dnspod.CreateRecordRequest) (*dnspod.CreateRecordResponse, error)
	DeleteRecordWithContext(context.Context, *dnspod.DeleteRecordRequest) (*dnspod.DeleteRecordResponse, error)
}

// Provider implements dns.Provider for Tencent Cloud DNSPod.
type Provider struct {
	client api
	log    logr.Logger
	ttl    int
	dryRun bool
	only   []string
	zones  []string
	ids    map[string][]uint64
}

// New creates a Tencent Cloud provider from the given settings map.
// Required settings: secret_id, secret_key.
// Optional settings: ttl (default 600), zones, endpoint.
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	secretID := settings["secret_id"]
	if secretID == "" {
		return nil, fmt.Errorf("tencent: missing required setting 'secret_id'")
	}
	secretKey := settings["secret_key"]
	if secretKey == "" {
		return nil, fmt.Errorf("tencent: missing required setting 'secret_key'")
	}
	ttl, err := dns.ParseTTL(settings["ttl"], 600)
	if err != nil {
		return nil, fmt.Errorf("tencent: %w", err)
	}

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "dnspod.tencentcloudapi.com"
	if v := settings["endpoint"]; v != "" {
		cpf.HttpProfile.Endpoint = v
	}
	client, err := dnspod.NewClient(common.NewCredential(secretID, secretKey), "", cpf)
	if err != nil {
		return nil, fmt.Errorf("tencent: create dns client: %w", err)
	}

	return newWithClient(client, log, ttl, settings["zones"]), nil
}

func newWithClient(client api, log logr.Logger, ttl int, zones string) *Provider {
	p := &Provider{client: client, log: log, ttl: ttl, ids: make(map[string][]uint64)}
	for _, z := range strings.Split(zones, ",") {
		if z = dns.NormalizeName(strings.TrimSpace(z)); z != "" {
			p.only = append(p.only, z)
		}
	}
	return p
}

func (p *Provider) Name() string { return "tencent" }

// SetDryRun makes every write a logged no-op.
func (p *Provider) SetDryRun(dryRun bool) { p.dryRun = dryRun }

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func u64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

func idKey(name, typ, value string) string {
	return name + "/" + typ + "/" + value
}

func (p *Provider) loadZones(ctx context.Context) error {
	if p.zones != nil {
		return nil
	}
	zones := []string{}
	for offset := int64(0); ; offset += pageSize {
		req := dnspod.NewDescribeDomainListRequest()
		req.Offset = common.Int64Ptr(offset)
		req.Limit = common.Int64Ptr(pageSize)

		var resp *dnspod.DescribeDomainListResponse
		err := dns.Retry(ctx, func() (err error) {
			resp, err = p.client.DescribeDomainListWithContext(ctx, req)
			return err
		})
		if err != nil {
			return fmt.Errorf("tencent: list domains: %w", err)
		}
		if resp.Response == nil || len(resp.Response.DomainList) == 0 {
			break
		}
		for _, d := range resp.Response.DomainList {
			name := dns.NormalizeName(str(d.Name))
			if len(p.only) == 0 || slices.Contains(p.only, name) {
				zones = append(zones, name)
			}
		}
		if len(resp.Response.DomainList) < pageSize {
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
	p.ids = make(map[string][]uint64)
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
	for offset := uint64(0); ; offset += pageSize {
		req := dnspod.NewDescribeRecordListRequest()
		req.Domain = common.StringPtr(zone)
		req.Offset = common.Uint64Ptr(offset)
		req.Limit = common.Uint64Ptr(pageSize)

		var resp *dnspod.DescribeRecordListResponse
		err := dns.Retry(ctx, func() (err error) {
			resp, err = p.client.DescribeRecordListWithContext(ctx, req)
			return err
		})
		var sdkErr *tcerrors.TencentCloudSDKError
		if errors.As(err, &sdkErr) && sdkErr.GetCode() == noRecords {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tencent: list records of %s: %w", zone, err)
		}
		if resp.Response == nil || len(resp.Response.RecordList) == 0 {
			break
		}
		for _, r := range resp.Response.RecordList {
			typ := str(r.Type)
			if typ != dns.TypeA && typ != dns.TypeAAAA && typ != dns.TypeTXT {
				continue
			}
			rec := dns.Record{
				Hostname: dns.NormalizeName(dns.FullName(str(r.Name), zone)),
				Type:     typ,
				Value:    str(r.Value),
				TTL:      int(u64(r.TTL)),
				ID:       strconv.FormatUint(u64(r.RecordId), 10),
			}
			if typ == dns.TypeTXT {
				rec.Value = dns.UnquoteTXT(rec.Value)
			}
			records = append(records, rec)
			key := idKey(rec.Hostname, rec.Type, rec.Value)
			if id := u64(r.RecordId); !slices.Contains(p.ids[key], id) {
				p.ids[key] = append(p.ids[key], id)
			}
		}
		if len(resp.Response.RecordList) < pageSize {
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
		return "", fmt.Errorf("tencent: no zone found for %s", hostname)
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

	req := dnspod.NewCreateRecordRequest()
	req.Domain = common.StringPtr(zone)
	req.SubDomain = common.StringPtr(dns.RelativeName(rec.Hostname, zone))
	req.RecordType = common.StringPtr(rec.Type)
	req.RecordLine = common.StringPtr(defaultLine)
	req.Value = common.StringPtr(rec.Value)
	req.TTL = common.Uint64Ptr(uint64(ttl))

	err = dns.RetryCreate(ctx, func() error {
		_, err := p.client.CreateRecordWithContext(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("tencent: create record: %w", err)
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
		return fmt.Errorf("tencent: record %s not found", rec)
	}

	for _, id := range ids {
		req := dnspod.NewDeleteRecordRequest()
		req.Domain = common.StringPtr(zone)
		req.RecordId = common.Uint64Ptr(id)
		err := dns.Retry(ctx, func() error {
			_, err := p.client.DeleteRecordWithContext(ctx, req)
			return err
		})
		if err != nil {
			return fmt.Errorf("tencent: delete record %d: %w", id, err)
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
