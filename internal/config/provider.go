package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

// DefaultProviderConfigPath is read when DNS_PROVIDER_PATH is unset.
const DefaultProviderConfigPath = "configs/dns-provider.yaml"

// boolSettings are the backend settings that must parse as booleans.
var boolSettings = []string{"proxied", "skip_tls_verify"}

// ProviderConfig selects a DNS backend and carries its settings verbatim.
// Settings are interpreted by the backend; only the shared ones are checked
// here so mistakes surface before any API call.
type ProviderConfig struct {
	Provider string            `yaml:"provider"`
	DryRun   bool              `yaml:"dry_run"`
	Settings map[string]string `yaml:"settings"`
}

// LoadProviderConfig loads the file named by DNS_PROVIDER_PATH, or
// DefaultProviderConfigPath.
func LoadProviderConfig() (*ProviderConfig, error) {
	path := os.Getenv("DNS_PROVIDER_PATH")
	if path == "" {
		path = DefaultProviderConfigPath
	}
	return LoadProviderConfigFromPath(path)
}

// LoadProviderConfigFromPath loads and validates a provider config file.
// ${VAR} references in setting values are expanded from the environment.
func LoadProviderConfigFromPath(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider config file: %w", err)
	}

	var cfg ProviderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing provider config file: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}
	for k, v := range cfg.Settings {
		cfg.Settings[k] = strings.TrimSpace(os.ExpandEnv(v))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the provider name and the settings shared by several
// backends. Errors name the offending field.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider config: missing required field 'provider'")
	}
	if _, err := dns.ParseTTL(c.Settings["ttl"], 0); err != nil {
		return fmt.Errorf("provider config: field 'settings.ttl': %w", err)
	}
	for _, key := range boolSettings {
		v, ok := c.Settings[key]
		if !ok || v == "" {
			continue
		}
		if _, err := strconv.ParseBool(v); err != nil {
			return fmt.Errorf("provider config: field 'settings.%s': invalid boolean %q", key, v)
		}
	}
	return nil
}

// WantsDryRun reports whether writes must be suppressed, either because the
// file asks for it or because the caller forces it.
func (c *ProviderConfig) WantsDryRun(force bool) bool {
	return force || c.DryRun
}
