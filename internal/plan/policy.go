package plan

import (
	"fmt"
	"strings"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/dns"
)

// Mode controls which address changes the generator may emit for owned domains.
type Mode string

const (
	// ModeCreateOnly only adds an A record to owned domains that have none.
	ModeCreateOnly Mode = "create-only"
	// ModeUpsert converges owned managed domains to exactly the target address.
	ModeUpsert Mode = "upsert"
	// ModeSync is ModeUpsert plus removal of A records from owned domains that
	// are no longer managed.
	ModeSync Mode = "sync"
)

// Select controls which observed domains are managed.
type Select string

const (
	// SelectAAAA manages every domain that has at least one AAAA record.
	SelectAAAA Select = "aaaa"
	// SelectAll manages every domain in the zone.
	SelectAll Select = "all"
	// SelectNames manages the domains matching Policy.Names.
	SelectNames Select = "names"
)

// ParseMode converts s to a Mode. The empty string yields ModeSync.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSync, nil
	case ModeCreateOnly, ModeUpsert, ModeSync:
		return m, nil
	default:
		return "", fmt.Errorf("unknown policy %q (expected create-only, upsert or sync)", s)
	}
}

// ParseSelect converts s to a Select. The empty string yields SelectAAAA.
func ParseSelect(s string) (Select, error) {
	switch sel := Select(strings.ToLower(strings.TrimSpace(s))); sel {
	case "":
		return SelectAAAA, nil
	case SelectAAAA, SelectAll, SelectNames:
		return sel, nil
	default:
		return "", fmt.Errorf("unknown select %q (expected aaaa, all or names)", s)
	}
}

// Matcher reports whether a hostname is in a configured name list.
type Matcher interface {
	Match(hostname string) bool
}

// Policy describes the desired state for one pass.
type Policy struct {
	Mode   Mode
	Select Select
	// Names is consulted when Select is SelectNames.
	Names Matcher
}

// Validate fills in defaults and checks that the policy is usable.
func (p *Policy) Validate() error {
	var err error
	if p.Mode, err = ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Select, err = ParseSelect(string(p.Select)); err != nil {
		return err
	}
	if p.Select == SelectNames && p.Names == nil {
		return fmt.Errorf("select %q requires a list of names", SelectNames)
	}
	return nil
}

// Manages reports whether d is part of the managed set.
func (p Policy) Manages(d dns.Domain) bool {
	switch p.Select {
	case SelectAll:
		return true
	case SelectNames:
		return p.Names != nil && p.Names.Match(d.Name)
	default:
		return len(d.AAAA) > 0
	}
}

func (p Policy) String() string {
	return fmt.Sprintf("%s/%s", p.Mode, p.Select)
}
