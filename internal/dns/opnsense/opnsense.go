package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

func init() {
	dns.Register("opnsense", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// description is stored on every host override this provider creates.
const description = "managed by yk-ddns-helper"

// Provider implements dns.Provider for OPNsense Unbound DNS host overrides.
type Provider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	dryRun    bool
	client    *http.Client
	log       logr.Logger
}

// New creates an OPNsense DNS provider from the given settings map.
// Required settings: base_url, api_key, api_secret.
// Optional settings: skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'base_url'")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_key'")
	}
	apiSecret := settings["api_secret"]
	if apiSecret == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_secret'")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("opnsense: invalid skip_tls_verify %q: %w", v, err)
		}
		if skip {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	return &Provider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Transport: transport},
		log:       log,
	}, nil
}

func (p *Provider) Name() string { return "opnsense" }

// SetDryRun makes every write a logged no-op.
func (p *Provider) SetDryRun(dryRun bool) { p.dryRun = dryRun }

// doRequest builds and executes an HTTP request against the OPNsense API.
func (p *Provider) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("opnsense: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("opnsense: build request: %w", err)
	}

	req.SetBasicAuth(p.apiKey, p.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opnsense: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// call performs a request with retries and decodes the JSON response into out.
func (p *Provider) call(ctx context.Context, method, path string, body, out interface{}) error {
	return p.send(ctx, dns.Retry, method, path, body, out)
}

// send is call with an explicit retry policy.
func (p *Provider) send(ctx context.Context, retry func(context.Context, func() error) error, method, path string, body, out interface{}) error {
	return retry(ctx, func() error {
		resp, err := p.doRequest(ctx, method, path, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("opnsense: %s returned status %d (%s): %s",
				path, resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(respBody)))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("opnsense: decode %s response: %w", path, err)
		}
		return nil
	})
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := p.call(ctx, http.MethodPost, "unbound/service/reconfigure", struct{}{}, &result); err != nil {
		return fmt.Errorf("opnsense: reconfigure: %w", err)
	}
	p.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Enabled  string `json:"enabled"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
	TXTData  string `json:"txtdata"`
}

// record converts an enabled A, AAAA or TXT row to a dns.Record.
func (r hostRow) record() (dns.Record, bool) {
	if r.Enabled == "0" || r.Hostname == "*" {
		return dns.Record{}, false
	}
	rec := dns.Record{
		Hostname: dns.NormalizeName(dns.FullName(r.Hostname, r.Domain)),
		Type:     strings.ToUpper(r.RR),
		ID:       r.UUID,
	}
	switch rec.Type {
	case dns.TypeA, dns.TypeAAAA:
		rec.Value = r.Server
	case dns.TypeTXT:
		rec.Value = dns.UnquoteTXT(r.TXTData)
	default:
		return dns.Record{}, false
	}
	return rec, true
}

func (p *Provider) search(ctx context.Context) ([]hostRow, error) {
	var sr searchResponse
	if err := p.call(ctx, http.MethodGet, "unbound/settings/searchHostOverride", nil, &sr); err != nil {
		return nil, err
	}
	return sr.Rows, nil
}

// Records returns every enabled A, AAAA and TXT host override.
func (p *Provider) Records(ctx context.Context) ([]dns.Record, error) {
	rows, err := p.search(ctx)
	if err != nil {
		return nil, err
	}
	var records []dns.Record
	for _, row := range rows {
		if rec, ok := row.record(); ok {
			records = append(records, rec)
		}
	}
	p.log.V(1).Info("listed host overrides", "rows", len(rows), "records", len(records))
	return records, nil
}

// findOverrides returns the UUIDs of the host overrides matching rec.
func (p *Provider) findOverrides(ctx context.Context, rec dns.Record) ([]string, error) {
	rows, err := p.search(ctx)
	if err != nil {
		return nil, err
	}
	var uuids []string
	for _, row := range rows {
		got, ok := row.record()
		if ok && got.Hostname == rec.Hostname && got.Type == rec.Type && got.Value == rec.Value {
			uuids = append(uuids, row.UUID)
		}
	}
	return uuids, nil
}

// buildHostBody creates the JSON body for addHostOverride calls.
func buildHostBody(record dns.Record) map[string]interface{} {
	host, domain := dns.SplitHostname(record.Hostname)
	h := map[string]string{
		"enabled":     "1",
		"hostname":    host,
		"domain":      domain,
		"rr":          record.Type,
		"server":      "",
		"txtdata":     "",
		"description": description,
		"mxprio":      "",
		"mx":          "",
	}
	if record.Type == dns.TypeTXT {
		h["txtdata"] = record.Value
	} else {
		h["server"] = record.Value
	}
	return map[string]interface{}{"host": h}
}

func (p *Provider) create(ctx context.Context, rec dns.Record) error {
	if p.dryRun {
		p.log.Info("dry-run: would create record", "record", rec.String())
		return nil
	}

	var result struct {
		Result string `json:"result"`
		UUID   string `json:"uuid"`
	}
	if err := p.send(ctx, dns.RetryCreate, http.MethodPost, "unbound/settings/addHostOverride", buildHostBody(rec), &result); err != nil {
		return err
	}
	if result.Result != "saved" {
		return fmt.Errorf("opnsense: addHostOverride unexpected result: %s", result.Result)
	}

	p.log.Info("record created", "record", rec.String(), "uuid", result.UUID)
	return nil
}

func (p *Provider) remove(ctx context.Context, rec dns.Record) error {
	if p.dryRun {
		p.log.Info("dry-run: would delete record", "record", rec.String())
		return nil
	}

	uuids, err := p.findOverrides(ctx, rec)
	if err != nil {
		return err
	}
	if len(uuids) == 0 {
		return fmt.Errorf("opnsense: no existing override found for %s", rec)
	}

	for _, uuid := range uuids {
		var result struct {
			Result string `json:"result"`
		}
		if err := p.call(ctx, http.MethodPost, "unbound/settings/delHostOverride/"+uuid, struct{}{}, &result); err != nil {
			return err
		}
		if result.Result != "deleted" {
			return fmt.Errorf("opnsense: delHostOverride unexpected result: %s", result.Result)
		}
	}

	p.log.Info("record deleted", "record", rec.String(), "uuids", uuids)
	return nil
}

func (p *Provider) CreateTXT(ctx context.Context, hostname, content string) error {
	if err := p.create(ctx, dns.TXTRecord(hostname, content)); err != nil {
		return err
	}
	return p.applyChanges(ctx)
}

func (p *Provider) DeleteTXT(ctx context.Context, hostname, content string) error {
	if err := p.remove(ctx, dns.TXTRecord(hostname, content)); err != nil {
		return err
	}
	return p.applyChanges(ctx)
}

// ApplyPlan writes every action and reconfigures Unbound once at the end.
// If the reconfigure fails, the actions that were saved report that error.
func (p *Provider) ApplyPlan(ctx context.Context, plan *dns.Plan) []error {
	results := dns.ApplySequential(ctx, plan, p.create, p.remove)

	saved := false
	for _, err := range results {
		saved = saved || err == nil
	}
	if !saved {
		return results
	}

	if err := p.applyChanges(ctx); err != nil {
		for i, rec := range plan.Actions() {
			if results[i] == nil {
				results[i] = fmt.Errorf("%s: %w", rec, err)
			}
		}
	}
	return results
}

func (p *Provider) applyChanges(ctx context.Context) error {
	if p.dryRun {
		return nil
	}
	return p.reconfigure(ctx)
}
