// Package source resolves the IPv4 address that managed domains should point to.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/miekg/dns"
)

// ErrSource is wrapped by every address resolution failure.
var ErrSource = errors.New("unable to determine IPv4 address")

// Source yields the current target IPv4 address.
type Source interface {
	Address(ctx context.Context) (netip.Addr, error)
}

// Source types accepted in Config.Type.
const (
	TypeFixed    = "fixed"
	TypeHostname = "hostname"
)

// Config selects and configures a Source.
type Config struct {
	Type     string   `yaml:"type"`
	Address  string   `yaml:"address"`
	Hostname string   `yaml:"hostname"`
	Servers  []string `yaml:"servers"`
}

// Validate checks that the fields required by Type are present.
func (c Config) Validate() error {
	switch c.Type {
	case TypeFixed:
		if _, err := parseIPv4(c.Address); err != nil {
			return fmt.Errorf("source.address: %w", err)
		}
	case TypeHostname:
		if c.Hostname == "" {
			return fmt.Errorf("source.hostname is required for source type %q", TypeHostname)
		}
		for _, s := range c.Servers {
			if _, err := serverAddr(s); err != nil {
				return fmt.Errorf("source.servers: %w", err)
			}
		}
	case "":
		return fmt.Errorf("source.type is required")
	default:
		return fmt.Errorf("unknown source type %q (expected %s or %s)", c.Type, TypeFixed, TypeHostname)
	}
	return nil
}

// New builds the Source described by cfg.
func New(cfg Config, log logr.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type == TypeFixed {
		return NewFixed(cfg.Address)
	}
	return NewHostname(cfg.Hostname, cfg.Servers, log)
}

// Fixed always returns the same address.
type Fixed struct {
	addr netip.Addr
}

// NewFixed parses addr, which must be an IPv4 literal.
func NewFixed(addr string) (*Fixed, error) {
	a, err := parseIPv4(addr)
	if err != nil {
		return nil, err
	}
	return &Fixed{addr: a}, nil
}

func (f *Fixed) Address(context.Context) (netip.Addr, error) {
	return f.addr, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("address %q is not IPv4", s)
	}
	return addr, nil
}

// resolvConf is read when no explicit servers are configured.
var resolvConf = "/etc/resolv.conf"

// Hostname resolves the A record of a hostname, typically one kept current
// by the router's own dynamic DNS client.
type Hostname struct {
	hostname string
	servers  []string
	client   *dns.Client
	log      logr.Logger
}

// NewHostname returns a Source querying servers for hostname. Servers may
// omit the port. When servers is empty the system resolvers are used.
func NewHostname(hostname string, servers []string, log logr.Logger) (*Hostname, error) {
	h := &Hostname{
		hostname: dns.Fqdn(hostname),
		client:   &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		log:      log,
	}

	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrSource, resolvConf, err)
		}
		for _, s := range conf.Servers {
			h.servers = append(h.servers, net.JoinHostPort(s, conf.Port))
		}
	}
	for _, s := range servers {
		addr, err := serverAddr(s)
		if err != nil {
			return nil, err
		}
		h.servers = append(h.servers, addr)
	}
	if len(h.servers) == 0 {
		return nil, fmt.Errorf("%w: no DNS servers available", ErrSource)
	}
	return h, nil
}

func serverAddr(s string) (string, error) {
	if _, _, err := net.SplitHostPort(s); err == nil {
		return s, nil
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return "", fmt.Errorf("invalid DNS server %q", s)
	}
	return net.JoinHostPort(s, "53"), nil
}

// Address queries each server in turn and returns the first A record found.
func (h *Hostname) Address(ctx context.Context) (netip.Addr, error) {
	var errs []error
	for _, server := range h.servers {
		addr, err := h.query(ctx, server)
		if err == nil {
			h.log.V(1).Info("resolved target address", "hostname", h.hostname, "server", server, "address", addr)
			return addr, nil
		}
		h.log.V(1).Info("query failed, trying next server", "server", server, "error", err.Error())
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: resolving %s: %w", ErrSource, h.hostname, errors.Join(errs...))
}

func (h *Hostname) query(ctx context.Context, server string) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(h.hostname, dns.TypeA)
	m.RecursionDesired = true

	resp, _, err := h.client.ExchangeContext(ctx, m, server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s: %w", server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%s: no A record in answer", server)
}
