// Package cli wires configuration, the DNS provider, the address source and
// the reconciler into the yk-ddns-helper commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/source"
)

// Version is set at build time.
var Version = "dev"

type options struct {
	configPath         string
	providerConfigPath string

	tenant      string
	policy      string
	selectNames string
	names       []string
	interval    time.Duration
	once        bool
	dryRun      bool
	lockFile    string
	metricsAddr string
	probeAddr   string

	zap zap.Options
}

// NewRootCommand returns the yk-ddns-helper command tree. The root command
// runs the reconciliation loop.
func NewRootCommand() *cobra.Command {
	o := &options{zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:   "yk-ddns-helper",
		Short: "Point IPv6 hosts at a shared IPv4 address",
		Long: "yk-ddns-helper keeps the A records of managed domains pointed at the current IPv4 address,\n" +
			"claiming each domain with a TXT ownership marker so several instances can share one zone.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&o.zap)))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runLoop(cmd.Context(), cmd.Flags())
		},
	}

	goflags := flag.NewFlagSet("zap", flag.ContinueOnError)
	o.zap.BindFlags(goflags)
	cmd.PersistentFlags().AddGoFlagSet(goflags)

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Helper config file (default $CONFIG_PATH or configs/ddns-helper.yaml)")
	pf.StringVar(&o.providerConfigPath, "provider-config", "", "DNS provider config file (default $DNS_PROVIDER_PATH or configs/dns-provider.yaml)")
	pf.StringVar(&o.tenant, "tenant", "", "Tenant name written into ownership markers")
	pf.StringVar(&o.policy, "policy", "", "Record policy: create-only, upsert or sync")
	pf.StringVar(&o.selectNames, "select", "", "Managed domains: aaaa, all or names")
	pf.StringSliceVar(&o.names, "names", nil, "Domain names or *.suffix patterns used by --select=names")
	pf.StringVar(&o.lockFile, "lock-file", "", "Skip passes while another process holds this lock file")

	f := cmd.Flags()
	f.DurationVar(&o.interval, "interval", 0, "Time between reconciliation passes")
	f.BoolVar(&o.once, "once", false, "Run a single pass and exit")
	f.BoolVar(&o.dryRun, "dry-run", false, "Log record changes instead of applying them")
	f.StringVar(&o.metricsAddr, "metrics-bind-address", "", "Metrics endpoint address, \"0\" to disable")
	f.StringVar(&o.probeAddr, "health-probe-bind-address", "", "Health probe endpoint address, \"0\" to disable")

	cmd.AddCommand(newPlanCommand(o), newVersionCommand())
	return cmd
}

// loadConfig reads the helper config and applies flag overrides.
func (o *options) loadConfig(flags changedFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfigFromPath(o.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load config: %w", err)
	}

	if flags.Changed("tenant") {
		cfg.Tenant = o.tenant
	}
	if flags.Changed("policy") {
		cfg.Policy = o.policy
	}
	if flags.Changed("select") {
		cfg.Select = o.selectNames
	}
	if flags.Changed("names") {
		cfg.Names = o.names
	}
	if flags.Changed("lock-file") {
		cfg.LockFile = o.lockFile
	}
	if flags.Changed("interval") {
		cfg.Interval = o.interval
	}
	if flags.Changed("once") {
		cfg.RunOnce = o.once
	}
	if flags.Changed("metrics-bind-address") {
		cfg.MetricsBindAddress = o.metricsAddr
	}
	if flags.Changed("health-probe-bind-address") {
		cfg.HealthProbeBindAddress = o.probeAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup builds the reconciler. Dry-run is enabled when forced, requested on
// the command line or set in the provider config; a provider that cannot
// honour it is a fatal error.
func (o *options) setup(cfg *config.Config, forceDryRun bool) (*controller.Reconciler, error) {
	log := ctrl.Log.WithName("setup")

	var (
		providerCfg *config.ProviderConfig
		err         error
	)
	if o.providerConfigPath != "" {
		providerCfg, err = config.LoadProviderConfigFromPath(o.providerConfigPath)
	} else {
		providerCfg, err = config.LoadProviderConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load provider config: %w", err)
	}
	log.Info("loaded provider config", "provider", providerCfg.Provider)

	provider, err := dns.NewProvider(providerCfg.Provider, ctrl.Log.WithName("dns-"+providerCfg.Provider), providerCfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("unable to create DNS provider: %w", err)
	}
	if providerCfg.WantsDryRun(forceDryRun || o.dryRun) {
		if err := dns.EnableDryRun(provider); err != nil {
			return nil, err
		}
		log.Info("dry-run enabled, no records will be changed")
	}

	src, err := source.New(cfg.Source, ctrl.Log.WithName("source"))
	if err != nil {
		return nil, fmt.Errorf("unable to create address source: %w", err)
	}

	policy, err := cfg.PlanPolicy()
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	r := &controller.Reconciler{
		Log:    ctrl.Log.WithName("reconciler"),
		DNS:    provider,
		Source: src,
		Tenant: cfg.Tenant,
		Policy: policy,
	}
	if cfg.LockFile != "" {
		r.Lock = flock.New(cfg.LockFile)
	}
	return r, nil
}

// changedFlags reports which flags were set on the command line.
type changedFlags interface {
	Changed(name string) bool
}

func (o *options) runLoop(ctx context.Context, flags changedFlags) error {
	log := ctrl.Log.WithName("setup")
	log.Info("starting yk-ddns-helper", "version", Version)

	cfg, err := o.loadConfig(flags)
	if err != nil {
		return err
	}
	r, err := o.setup(cfg, false)
	if err != nil {
		return err
	}

	if cfg.RunOnce {
		res, err := r.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation pass failed: %w", err)
		}
		log.Info("pass completed", "target", res.Target, "changes", res.Plan.Len(), "released", len(res.Released))
		return nil
	}

	controller.RegisterMetrics()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	serve := func(name string, handler func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler(); err != nil {
				errCh <- fmt.Errorf("%s server: %w", name, err)
				cancel()
			}
		}()
	}
	serve("metrics", func() error {
		return controller.Serve(ctx, ctrl.Log.WithName("metrics"), cfg.MetricsBindAddress, controller.MetricsHandler())
	})
	serve("health probe", func() error {
		return controller.Serve(ctx, ctrl.Log.WithName("probes"), cfg.HealthProbeBindAddress, controller.ProbeHandler(r.ReadyCheck))
	})

	r.Run(ctx, cfg.Interval)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
