package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gofrs/flock"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/plan"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/registry"
	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/source"
)

// errNotReady is reported by the readiness check until a pass succeeds.
var errNotReady = errors.New("no successful reconciliation yet")

// Result summarizes one reconciliation pass.
type Result struct {
	// Skipped is set when another process held the lock.
	Skipped bool
	Target  netip.Addr
	Plan    *dns.Plan
	// Released lists the names that left the managed set and had their
	// markers removed.
	Released []string
}

// Reconciler runs reconciliation passes against one DNS provider.
type Reconciler struct {
	Log    logr.Logger
	DNS    dns.Provider
	Source source.Source
	Tenant string
	Policy plan.Policy
	// Lock, when set, is held for the duration of each pass.
	Lock *flock.Flock

	mu          sync.Mutex
	lastSuccess time.Time
}

// Reconcile performs a single pass: read the zone, build the registry,
// resolve the target address, generate and apply the plan, then release the
// names that lost all their address records.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := r.reconcile(ctx)
	observePass(res, err, time.Since(start))
	if err == nil && !res.Skipped {
		r.mu.Lock()
		r.lastSuccess = time.Now()
		r.mu.Unlock()
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context) (Result, error) {
	log := r.Log

	if r.Lock != nil {
		locked, err := r.Lock.TryLock()
		if err != nil {
			return Result{}, fmt.Errorf("acquiring lock %s: %w", r.Lock.Path(), err)
		}
		if !locked {
			log.Info("another instance holds the lock, skipping pass", "lock", r.Lock.Path())
			return Result{Skipped: true}, nil
		}
		defer func() {
			if err := r.Lock.Unlock(); err != nil {
				log.Error(err, "unable to release lock", "lock", r.Lock.Path())
			}
		}()
	}

	records, err := r.DNS.Records(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reading records from %s: %w", r.DNS.Name(), err)
	}
	reg := registry.New(records, r.Tenant, r.DNS, log.WithName("registry"))
	log.V(1).Info("built registry", "records", len(records), "domains", len(reg.Names()))

	target, err := r.Source.Address(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Target: target}

	p, err := plan.Generate(logf.IntoContext(ctx, log.WithName("plan")), reg, target, r.Policy)
	if err != nil {
		return res, fmt.Errorf("generating plan: %w", err)
	}
	res.Plan = p
	ownedDomains.Set(float64(len(reg.OwnedDomains())))

	if p.Empty() {
		log.V(1).Info("all managed domains are up to date", "target", target)
		return res, nil
	}
	log.Info("applying plan", "target", target, "creates", len(p.Create), "deletes", len(p.Delete), "releases", len(p.Release))

	releasable := slices.Clone(p.Release)
	actions := p.Actions()
	results := r.DNS.ApplyPlan(ctx, p)

	var errs []error
	failed := sets.New[string]()
	for i, rec := range actions {
		var err error
		if i < len(results) {
			err = results[i]
		} else {
			err = fmt.Errorf("%s: no result from provider %s", rec, r.DNS.Name())
		}
		action := "create"
		if i >= len(p.Create) {
			action = "delete"
		}
		observeAction(action, err)
		if err != nil {
			errs = append(errs, err)
			failed.Insert(rec.Hostname)
		}
	}

	for _, name := range releasable {
		if failed.Has(name) {
			log.V(1).Info("keeping ownership, delete did not succeed", "domain", name)
			continue
		}
		if err := reg.Release(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Released = append(res.Released, name)
	}

	return res, utilerrors.NewAggregate(errs)
}

// Run reconciles every interval until ctx is done. A failed pass is logged
// and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.Log.Info("starting reconciliation loop", "interval", interval, "policy", r.Policy.String())
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if _, err := r.Reconcile(ctx); err != nil {
			r.logError(err)
		}
	}, interval)
	r.Log.Info("reconciliation loop stopped")
}

func (r *Reconciler) logError(err error) {
	var agg utilerrors.Aggregate
	if errors.As(err, &agg) {
		for _, e := range agg.Errors() {
			r.Log.Error(e, "reconciliation action failed")
		}
		return
	}
	r.Log.Error(err, "reconciliation pass failed")
}

// ReadyCheck is a healthz.Checker that passes once a reconciliation has
// succeeded.
func (r *Reconciler) ReadyCheck(_ *http.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSuccess.IsZero() {
		return errNotReady
	}
	return nil
}
