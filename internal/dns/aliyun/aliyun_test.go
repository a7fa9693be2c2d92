package aliyun

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	alidns "github.com/alibabacloud-go/alidns-20150109/v4/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

type fakeRecord struct {
	id, zone, rr, typ, value string
}

// fakeAPI keeps records in memory in place of the Alibaba Cloud DNS API.
type fakeAPI struct {
	zones   []string
	records []fakeRecord
	nextID  int
	adds    []*alidns.AddDomainRecordRequest
	addErr  error
}

func (f *fakeAPI) DescribeDomains(req *alidns.DescribeDomainsRequest) (*alidns.DescribeDomainsResponse, error) {
	var domains []*alidns.DescribeDomainsResponseBodyDomainsDomain
	if tea.Int64Value(req.PageNumber) == 1 {
		for _, z := range f.zones {
			domains = append(domains, &alidns.DescribeDomainsResponseBodyDomainsDomain{DomainName: tea.String(z)})
		}
	}
	return &alidns.DescribeDomainsResponse{Body: &alidns.DescribeDomainsResponseBody{
		TotalCount: tea.Int64(int64(len(f.zones))),
		Domains:    &alidns.DescribeDomainsResponseBodyDomains{Domain: domains},
	}}, nil
}

func (f *fakeAPI) DescribeDomainRecords(req *alidns.DescribeDomainRecordsRequest) (*alidns.DescribeDomainRecordsResponse, error) {
	var out []*alidns.DescribeDomainRecordsResponseBodyDomainRecordsRecord
	total := 0
	for _, r := range f.records {
		if r.zone != tea.StringValue(req.DomainName) {
			continue
		}
		total++
		if tea.Int64Value(req.PageNumber) == 1 {
			out = append(out, &alidns.DescribeDomainRecordsResponseBodyDomainRecordsRecord{
				RecordId: tea.String(r.id),
				RR:       tea.String(r.rr),
				Type:     tea.String(r.typ),
				Value:    tea.String(r.value),
				TTL:      tea.Int64(600),
			})
		}
	}
	return &alidns.DescribeDomainRecordsResponse{Body: &alidns.DescribeDomainRecordsResponseBody{
		TotalCount:    tea.Int64(int64(total)),
		DomainRecords: &alidns.DescribeDomainRecordsResponseBodyDomainRecords{Record: out},
	}}, nil
}

func (f *fakeAPI) AddDomainRecord(req *alidns.AddDomainRecordRequest) (*alidns.AddDomainRecordResponse, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.adds = append(f.adds, req)
	f.nextID++
	f.records = append(f.records, fakeRecord{
		id:    fmt.Sprintf("new%d", f.nextID),
		zone:  tea.StringValue(req.DomainName),
		rr:    tea.StringValue(req.RR),
		typ:   tea.StringValue(req.Type),
		value: tea.StringValue(req.Value),
	})
	return &alidns.AddDomainRecordResponse{}, nil
}

func (f *fakeAPI) DeleteDomainRecord(req *alidns.DeleteDomainRecordRequest) (*alidns.DeleteDomainRecordResponse, error) {
	for i, r := range f.records {
		if r.id == tea.StringValue(req.RecordId) {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return &alidns.DeleteDomainRecordResponse{}, nil
		}
	}
	return nil, errors.New("DomainRecordNotBelongToUser")
}

func (f *fakeAPI) has(rr, typ, value string) bool {
	for _, r := range f.records {
		if r.rr == rr && r.typ == typ && r.value == value {
			return true
		}
	}
	return false
}

func newFake() *fakeAPI {
	return &fakeAPI{
		zones: []string{"example.com", "example.org"},
		records: []fakeRecord{
			{"1", "example.com", "a", "AAAA", "2001:db8::5"},
			{"2", "example.com", "a", "A", "10.0.0.4"},
			{"3", "example.com", "@", "TXT", "yk-ddns-helper/tenant=t1"},
			{"4", "example.org", "mail", "MX", "mx.example.org"},
		},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
		wantErr  bool
	}{
		{"valid", map[string]string{"access_key_id": "id", "access_key_secret": "secret"}, false},
		{"missing id", map[string]string{"access_key_secret": "secret"}, true},
		{"missing secret", map[string]string{"access_key_id": "id"}, true},
		{"invalid ttl", map[string]string{"access_key_id": "id", "access_key_secret": "secret", "ttl": "-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(logr.Discard(), tt.settings)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecords(t *testing.T) {
	p := newWithClient(newFake(), logr.Discard(), 600, "")

	records, err := p.Records(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d: %v", len(records), records)
	}
	want := []string{
		"a.example.com: AAAA 2001:db8::5",
		"a.example.com: A 10.0.0.4",
		"example.com: TXT yk-ddns-helper/tenant=t1",
	}
	for _, r := range records {
		if !slices.Contains(want, r.String()) {
			t.Errorf("unexpected record %s", r)
		}
	}
}

func TestZoneFilter(t *testing.T) {
	p := newWithClient(newFake(), logr.Discard(), 600, "example.org")
	if _, err := p.Records(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.zones) != 1 || p.zones[0] != "example.org" {
		t.Errorf("expected only example.org, got %v", p.zones)
	}
}

func TestWrites(t *testing.T) {
	fake := newFake()
	p := newWithClient(fake, logr.Discard(), 600, "")
	ctx := context.Background()

	if _, err := p.Records(ctx); err != nil {
		t.Fatalf("records: %v", err)
	}
	if err := p.CreateTXT(ctx, "b.example.com", "marker"); err != nil {
		t.Fatalf("create txt: %v", err)
	}
	if !fake.has("b", "TXT", "marker") {
		t.Error("expected TXT record with relative name 'b'")
	}
	if tea.Int64Value(fake.adds[0].TTL) != 600 {
		t.Errorf("expected default TTL 600, got %d", tea.Int64Value(fake.adds[0].TTL))
	}

	results := p.ApplyPlan(ctx, &dns.Plan{
		Create: []dns.Record{{Hostname: "a.example.com", Type: dns.TypeA, Value: "10.0.0.5"}},
		Delete: []dns.Record{{Hostname: "a.example.com", Type: dns.TypeA, Value: "10.0.0.4"}},
	})
	for i, err := range results {
		if err != nil {
			t.Errorf("action %d: unexpected error: %v", i, err)
		}
	}
	if !fake.has("a", "A", "10.0.0.5") || fake.has("a", "A", "10.0.0.4") {
		t.Error("expected A record to be replaced")
	}

	if err := p.DeleteTXT(ctx, "b.example.com", "marker"); err != nil {
		t.Fatalf("delete txt: %v", err)
	}
	if fake.has("b", "TXT", "marker") {
		t.Error("expected TXT record to be deleted")
	}
}

func TestCreateFailure(t *testing.T) {
	fake := newFake()
	fake.addErr = errors.New("InvalidAccessKeyId.NotFound")
	p := newWithClient(fake, logr.Discard(), 600, "")

	if err := p.CreateTXT(context.Background(), "b.example.com", "marker"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDryRun(t *testing.T) {
	fake := newFake()
	p := newWithClient(fake, logr.Discard(), 600, "")
	if err := dns.EnableDryRun(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.CreateTXT(context.Background(), "b.example.com", "marker"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.adds) != 0 {
		t.Errorf("expected no writes in dry-run, got %d", len(fake.adds))
	}
}
