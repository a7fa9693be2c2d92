package controller

import (
	"fmt"
	"strings"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

// FormatPlan returns a human-readable string representation of a pass result.
func FormatPlan(res Result) string {
	var b strings.Builder

	if res.Skipped {
		fmt.Fprintf(&b, "Pass skipped: lock held by another instance\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Target %s\n", res.Target)

	if res.Plan == nil || res.Plan.Empty() {
		fmt.Fprintf(&b, "  No changes\n")
		return b.String()
	}

	// Creates
	if len(res.Plan.Create) > 0 {
		fmt.Fprintf(&b, "  Create:\n")
		for _, rec := range res.Plan.Create {
			fmt.Fprintf(&b, "    + %s\n", formatRecord(rec))
		}
	}

	// Deletes
	if len(res.Plan.Delete) > 0 {
		fmt.Fprintf(&b, "  Delete:\n")
		for _, rec := range res.Plan.Delete {
			fmt.Fprintf(&b, "    - %s\n", formatRecord(rec))
		}
	}

	// Releases
	if len(res.Released) > 0 {
		fmt.Fprintf(&b, "  Released:\n")
		for _, name := range res.Released {
			fmt.Fprintf(&b, "    ~ %s\n", name)
		}
	}

	return b.String()
}

func formatRecord(rec dns.Record) string {
	ttl := ""
	if rec.TTL > 0 {
		ttl = fmt.Sprintf(" ttl=%d", rec.TTL)
	}
	return fmt.Sprintf("%s %s %s%s", rec.Hostname, rec.Type, rec.Value, ttl)
}
