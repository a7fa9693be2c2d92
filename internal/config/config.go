package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/plan"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/registry"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/source"
)

// Defaults applied to fields left empty in the helper config file.
const (
	DefaultInterval               = 60 * time.Second
	DefaultMetricsBindAddress     = ":9090"
	DefaultHealthProbeBindAddress = ":8081"
)

// Config is the helper configuration: who we are, what we manage and where
// the target address comes from.
type Config struct {
	Tenant string        `yaml:"tenant"`
	Policy string        `yaml:"policy"`
	Select string        `yaml:"select"`
	Names  []string      `yaml:"names"`
	Source source.Config `yaml:"source"`

	Interval time.Duration `yaml:"interval"`
	RunOnce  bool          `yaml:"run_once"`
	// LockFile, when set, serializes passes across processes on this host.
	LockFile string `yaml:"lock_file"`

	MetricsBindAddress     string `yaml:"metrics_bind_address"`
	HealthProbeBindAddress string `yaml:"health_probe_bind_address"`
}

// LoadConfig reads the helper configuration from the path specified by the
// CONFIG_PATH environment variable, defaulting to "configs/ddns-helper.yaml".
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/ddns-helper.yaml"
	}
	return LoadConfigFromPath(path)
}

// LoadConfigFromPath reads the helper configuration from the given file path
// and fills in defaults. It does not validate; call Validate once flag
// overrides have been applied.
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Tenant = os.ExpandEnv(cfg.Tenant)
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills every empty optional field.
func (c *Config) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.MetricsBindAddress == "" {
		c.MetricsBindAddress = DefaultMetricsBindAddress
	}
	if c.HealthProbeBindAddress == "" {
		c.HealthProbeBindAddress = DefaultHealthProbeBindAddress
	}
	if c.Source.Type == "" && c.Source.Address != "" {
		c.Source.Type = source.TypeFixed
	}
}

// Validate checks the configuration. Errors name the offending field.
func (c *Config) Validate() error {
	if strings.TrimSpace(registry.NormalizeTenant(c.Tenant)) == "" {
		return fmt.Errorf("config: missing required field 'tenant'")
	}
	if _, err := plan.ParseMode(c.Policy); err != nil {
		return fmt.Errorf("config: field 'policy': %w", err)
	}
	sel, err := plan.ParseSelect(c.Select)
	if err != nil {
		return fmt.Errorf("config: field 'select': %w", err)
	}
	if sel == plan.SelectNames && len(c.Names) == 0 {
		return fmt.Errorf("config: field 'names' is required when select is %q", plan.SelectNames)
	}
	if _, err := NewNameSet(c.Names); err != nil {
		return fmt.Errorf("config: field 'names': %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("config: field 'source': %w", err)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("config: field 'interval' must be positive, got %s", c.Interval)
	}
	return nil
}

// PlanPolicy converts the policy fields to a plan.Policy.
func (c *Config) PlanPolicy() (plan.Policy, error) {
	mode, err := plan.ParseMode(c.Policy)
	if err != nil {
		return plan.Policy{}, err
	}
	sel, err := plan.ParseSelect(c.Select)
	if err != nil {
		return plan.Policy{}, err
	}
	policy := plan.Policy{Mode: mode, Select: sel}
	if len(c.Names) > 0 {
		names, err := NewNameSet(c.Names)
		if err != nil {
			return plan.Policy{}, err
		}
		policy.Names = names
	}
	return policy, policy.Validate()
}
