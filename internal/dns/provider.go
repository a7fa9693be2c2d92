package dns

import (
	"context"
	"errors"
	"fmt"
)

// ErrDryRunUnsupported is returned when dry-run is requested from a provider
// that cannot run without writing.
var ErrDryRunUnsupported = errors.New("provider does not support dry-run")

// Provider is the capability set every DNS backend implements.
type Provider interface {
	Name() string
	// Records returns all A, AAAA and TXT records visible to the provider.
	Records(ctx context.Context) ([]Record, error)
	// CreateTXT and DeleteTXT manage single TXT records. They exist for the
	// ownership markers; address records go through ApplyPlan.
	CreateTXT(ctx context.Context, hostname, content string) error
	DeleteTXT(ctx context.Context, hostname, content string) error
	// ApplyPlan returns one error per action, creates first then deletes.
	// A failing action does not stop the remaining ones.
	ApplyPlan(ctx context.Context, plan *Plan) []error
}

// DryRunner is implemented by providers that can log writes instead of
// performing them.
type DryRunner interface {
	SetDryRun(dryRun bool)
}

// EnableDryRun switches p to dry-run mode.
func EnableDryRun(p Provider) error {
	dr, ok := p.(DryRunner)
	if !ok {
		return fmt.Errorf("%s: %w", p.Name(), ErrDryRunUnsupported)
	}
	dr.SetDryRun(true)
	return nil
}

// ApplySequential applies plan one action at a time through create and
// remove. It is the ApplyPlan implementation for backends without a batch API.
func ApplySequential(ctx context.Context, plan *Plan, create, remove func(context.Context, Record) error) []error {
	results := make([]error, 0, plan.Len())
	if plan == nil {
		return results
	}
	for _, rec := range plan.Create {
		results = append(results, wrapAction("create", rec, create(ctx, rec)))
	}
	for _, rec := range plan.Delete {
		results = append(results, wrapAction("delete", rec, remove(ctx, rec)))
	}
	return results
}

func wrapAction(op string, rec Record, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, rec, err)
}
