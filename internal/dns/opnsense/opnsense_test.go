package opnsense

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

func TestNew_ValidSettings(t *testing.T) {
	settings := map[string]string{
		"base_url":   "https://opnsense.local/api",
		"api_key":    "key123",
		"api_secret": "secret456",
	}

	p, err := New(logr.Discard(), settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.baseURL != "https://opnsense.local/api" {
		t.Errorf("expected baseURL 'https://opnsense.local/api', got %q", p.baseURL)
	}
	if p.Name() != "opnsense" {
		t.Errorf("expected name 'opnsense', got %q", p.Name())
	}
}

func TestNew_MissingSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
	}{
		{"missing base_url", map[string]string{"api_key": "key123", "api_secret": "secret456"}},
		{"missing api_key", map[string]string{"base_url": "https://opnsense.local/api", "api_secret": "secret456"}},
		{"missing api_secret", map[string]string{"base_url": "https://opnsense.local/api", "api_key": "key123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(logr.Discard(), tt.settings); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNew_SkipTLSVerify(t *testing.T) {
	settings := map[string]string{
		"base_url":        "https://opnsense.local/api",
		"api_key":         "key123",
		"api_secret":      "secret456",
		"skip_tls_verify": "true",
	}

	p, err := New(logr.Discard(), settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.client == nil {
		t.Fatal("expected non-nil HTTP client")
	}

	settings["skip_tls_verify"] = "maybe"
	if _, err := New(logr.Discard(), settings); err == nil {
		t.Fatal("expected error for invalid skip_tls_verify, got nil")
	}
}

func TestHostRowRecord(t *testing.T) {
	tests := []struct {
		name string
		row  hostRow
		want string
		ok   bool
	}{
		{"a", hostRow{Enabled: "1", Hostname: "app", Domain: "example.com", RR: "A", Server: "10.0.0.5"}, "app.example.com: A 10.0.0.5", true},
		{"aaaa", hostRow{Enabled: "1", Hostname: "app", Domain: "example.com", RR: "AAAA", Server: "2001:db8::1"}, "app.example.com: AAAA 2001:db8::1", true},
		{"txt", hostRow{Enabled: "1", Hostname: "app", Domain: "example.com", RR: "TXT", TXTData: `"marker"`}, "app.example.com: TXT marker", true},
		{"apex", hostRow{Enabled: "1", Domain: "example.com", RR: "A", Server: "10.0.0.5"}, "example.com: A 10.0.0.5", true},
		{"disabled", hostRow{Enabled: "0", Hostname: "app", Domain: "example.com", RR: "A", Server: "10.0.0.5"}, "", false},
		{"wildcard", hostRow{Enabled: "1", Hostname: "*", Domain: "example.com", RR: "A", Server: "10.0.0.5"}, "", false},
		{"mx", hostRow{Enabled: "1", Hostname: "app", Domain: "example.com", RR: "MX"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := tt.row.record()
			if ok != tt.ok {
				t.Fatalf("record() ok = %v, want %v", ok, tt.ok)
			}
			if ok && rec.String() != tt.want {
				t.Errorf("record() = %q, want %q", rec.String(), tt.want)
			}
		})
	}
}

func TestBuildHostBody(t *testing.T) {
	body := buildHostBody(dns.TXTRecord("app.example.com", "marker"))
	h := body["host"].(map[string]string)
	if h["hostname"] != "app" || h["domain"] != "example.com" {
		t.Errorf("unexpected split: hostname=%q domain=%q", h["hostname"], h["domain"])
	}
	if h["rr"] != "TXT" || h["txtdata"] != "marker" || h["server"] != "" {
		t.Errorf("unexpected TXT body: %v", h)
	}

	body = buildHostBody(dns.Record{Hostname: "app.example.com", Type: dns.TypeA, Value: "10.0.0.5"})
	h = body["host"].(map[string]string)
	if h["server"] != "10.0.0.5" || h["txtdata"] != "" {
		t.Errorf("unexpected A body: %v", h)
	}
	if h["description"] != description {
		t.Errorf("expected description %q, got %q", description, h["description"])
	}
}

// stubAPI is a minimal host override store served over HTTP.
type stubAPI struct {
	rows         []hostRow
	reconfigures int
	failReconfig bool

	// failAdd saves the override and then answers with a server error.
	failAdd bool
	adds    int
}

func (s *stubAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /unbound/settings/searchHostOverride", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{Rows: s.rows})
	})
	mux.HandleFunc("POST /unbound/settings/addHostOverride", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Host map[string]string `json:"host"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.adds++
		s.rows = append(s.rows, hostRow{
			UUID:     "u" + body.Host["hostname"] + body.Host["rr"],
			Enabled:  body.Host["enabled"],
			Hostname: body.Host["hostname"],
			Domain:   body.Host["domain"],
			RR:       body.Host["rr"],
			Server:   body.Host["server"],
			TXTData:  body.Host["txtdata"],
		})
		if s.failAdd {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"result":"saved"}`))
	})
	mux.HandleFunc("POST /unbound/settings/delHostOverride/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		for i, row := range s.rows {
			if row.UUID == r.PathValue("uuid") {
				s.rows = append(s.rows[:i], s.rows[i+1:]...)
				_, _ = w.Write([]byte(`{"result":"deleted"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"result":"not found"}`))
	})
	mux.HandleFunc("POST /unbound/service/reconfigure", func(w http.ResponseWriter, _ *http.Request) {
		s.reconfigures++
		if s.failReconfig {
			http.Error(w, "unbound failed to start", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func newStubProvider(t *testing.T, stub *stubAPI) *Provider {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	p, err := New(logr.Discard(), map[string]string{
		"base_url":   srv.URL,
		"api_key":    "key",
		"api_secret": "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestApplyPlan(t *testing.T) {
	stub := &stubAPI{rows: []hostRow{
		{UUID: "old", Enabled: "1", Hostname: "app", Domain: "example.com", RR: "A", Server: "10.0.0.4"},
		{UUID: "v6", Enabled: "1", Hostname: "app", Domain: "example.com", RR: "AAAA", Server: "2001:db8::1"},
	}}
	p := newStubProvider(t, stub)
	ctx := context.Background()

	results := p.ApplyPlan(ctx, &dns.Plan{
		Create: []dns.Record{{Hostname: "app.example.com", Type: dns.TypeA, Value: "10.0.0.5"}},
		Delete: []dns.Record{{Hostname: "app.example.com", Type: dns.TypeA, Value: "10.0.0.4"}},
	})
	for i, err := range results {
		if err != nil {
			t.Errorf("action %d: unexpected error: %v", i, err)
		}
	}
	if stub.reconfigures != 1 {
		t.Errorf("expected one reconfigure per plan, got %d", stub.reconfigures)
	}

	records, err := p.Records(ctx)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	var got []string
	for _, r := range records {
		got = append(got, r.String())
	}
	if want := "app.example.com: AAAA 2001:db8::1,app.example.com: A 10.0.0.5"; strings.Join(got, ",") != want {
		t.Errorf("records = %v, want %s", got, want)
	}
}

func TestApplyPlan_ReconfigureFailure(t *testing.T) {
	stub := &stubAPI{failReconfig: true}
	p := newStubProvider(t, stub)

	results := p.ApplyPlan(context.Background(), &dns.Plan{
		Create: []dns.Record{{Hostname: "app.example.com", Type: dns.TypeA, Value: "10.0.0.5"}},
		Delete: []dns.Record{{Hostname: "gone.example.com", Type: dns.TypeA, Value: "10.0.0.4"}},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0] == nil || !strings.Contains(results[0].Error(), "reconfigure") {
		t.Errorf("expected reconfigure error for the saved create, got %v", results[0])
	}
	if results[1] == nil || !strings.Contains(results[1].Error(), "no existing override") {
		t.Errorf("expected not-found error for the delete, got %v", results[1])
	}
}

func TestApplyPlan_CreateNotRetriedAfterServerError(t *testing.T) {
	stub := &stubAPI{failAdd: true}
	p := newStubProvider(t, stub)

	results := p.ApplyPlan(context.Background(), &dns.Plan{
		Create: []dns.Record{{Hostname: "app.example.com", Type: dns.TypeA, Value: "10.0.0.5"}},
	})
	if len(results) != 1 || results[0] == nil {
		t.Fatalf("expected the create to fail, got %v", results)
	}
	if stub.adds != 1 {
		t.Errorf("expected a single add request, got %d", stub.adds)
	}
	if len(stub.rows) != 1 {
		t.Errorf("expected no duplicate override, got %v", stub.rows)
	}
}

func TestTXTWrites(t *testing.T) {
	stub := &stubAPI{}
	p := newStubProvider(t, stub)
	ctx := context.Background()

	if err := p.CreateTXT(ctx, "app.example.com", "yk-ddns-helper/tenant=t1"); err != nil {
		t.Fatalf("create txt: %v", err)
	}
	if len(stub.rows) != 1 || stub.rows[0].TXTData != "yk-ddns-helper/tenant=t1" {
		t.Fatalf("expected one TXT override, got %v", stub.rows)
	}
	if err := p.DeleteTXT(ctx, "app.example.com", "yk-ddns-helper/tenant=t1"); err != nil {
		t.Fatalf("delete txt: %v", err)
	}
	if len(stub.rows) != 0 {
		t.Errorf("expected TXT override to be removed, got %v", stub.rows)
	}
	if stub.reconfigures != 2 {
		t.Errorf("expected a reconfigure after each TXT write, got %d", stub.reconfigures)
	}
}

func TestDryRun(t *testing.T) {
	stub := &stubAPI{}
	p := newStubProvider(t, stub)
	if err := dns.EnableDryRun(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.CreateTXT(context.Background(), "app.example.com", "marker"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.rows) != 0 || stub.reconfigures != 0 {
		t.Errorf("expected no writes in dry-run, got %d rows and %d reconfigures", len(stub.rows), stub.reconfigures)
	}
}
