// Package tier maps document sizes to resource-budget tiers.
//
// Both TierForBytes and Cfg are pure: they depend only on the Policy value
// and their argument, never on document state. This keeps "how expensive is
// this document" separate from "what do we do about it".
package tier

import (
	"fmt"
	"time"
)

// Tier is an ordinal size bucket. Larger tiers get cheaper defaults.
type Tier int

const (
	Small Tier = iota
	Medium
	Large
)

var tierNames = [...]string{"small", "medium", "large"}

func (t Tier) String() string {
	if t < Small || t > Large {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// All returns every tier in ascending order.
func All() []Tier {
	return []Tier{Small, Medium, Large}
}

// InjectionPolicy controls when embedded-language layers are parsed.
type InjectionPolicy int

const (
	// InjectionsEager parses injections in every full-document task.
	InjectionsEager InjectionPolicy = iota
	// InjectionsLazy parses injections only for the visible range.
	InjectionsLazy
	// InjectionsOff never parses injections.
	InjectionsOff
)

func (p InjectionPolicy) String() string {
	switch p {
	case InjectionsEager:
		return "eager"
	case InjectionsLazy:
		return "lazy"
	case InjectionsOff:
		return "off"
	default:
		return fmt.Sprintf("injections(%d)", int(p))
	}
}

// ParseInjectionPolicy parses the config spelling of an injection policy.
func ParseInjectionPolicy(s string) (InjectionPolicy, error) {
	switch s {
	case "eager":
		return InjectionsEager, nil
	case "lazy":
		return InjectionsLazy, nil
	case "off":
		return InjectionsOff, nil
	default:
		return 0, fmt.Errorf("unknown injection policy %q (want eager, lazy or off)", s)
	}
}

// Config holds the knobs applied to every document of a tier.
type Config struct {
	Injections InjectionPolicy
	// ViewportCap bounds the byte length of viewport-scoped parses.
	ViewportCap int
	// ParseHidden allows Cold documents to keep receiving background work.
	ParseHidden bool
	MinTimeout  time.Duration
	MaxTimeout  time.Duration
}

// Thresholds are the inclusive lower byte bounds of the Medium and Large tiers.
type Thresholds struct {
	MediumBytes int
	LargeBytes  int
}

// Policy is an immutable tier table.
type Policy struct {
	thresholds Thresholds
	configs    [3]Config
}

const (
	DefaultMediumBytes = 256 * 1024
	DefaultLargeBytes  = 4 * 1024 * 1024
)

// DefaultConfigs returns the built-in per-tier knobs, indexed by Tier.
func DefaultConfigs() [3]Config {
	return [3]Config{
		Small: {
			Injections:  InjectionsEager,
			ViewportCap: 64 * 1024,
			ParseHidden: true,
			MinTimeout:  40 * time.Millisecond,
			MaxTimeout:  2 * time.Second,
		},
		Medium: {
			Injections:  InjectionsLazy,
			ViewportCap: 32 * 1024,
			ParseHidden: true,
			MinTimeout:  80 * time.Millisecond,
			MaxTimeout:  5 * time.Second,
		},
		Large: {
			Injections:  InjectionsOff,
			ViewportCap: 16 * 1024,
			ParseHidden: false,
			MinTimeout:  120 * time.Millisecond,
			MaxTimeout:  10 * time.Second,
		},
	}
}

// DefaultPolicy returns the policy used when no configuration is supplied.
func DefaultPolicy() Policy {
	p, err := NewPolicy(Thresholds{MediumBytes: DefaultMediumBytes, LargeBytes: DefaultLargeBytes}, DefaultConfigs())
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy validates and builds a Policy.
func NewPolicy(th Thresholds, configs [3]Config) (Policy, error) {
	if th.MediumBytes <= 0 {
		return Policy{}, fmt.Errorf("medium threshold must be > 0, got %d", th.MediumBytes)
	}
	if th.LargeBytes <= th.MediumBytes {
		return Policy{}, fmt.Errorf("large threshold (%d) must exceed medium threshold (%d)", th.LargeBytes, th.MediumBytes)
	}
	for _, t := range All() {
		c := configs[t]
		if c.ViewportCap <= 0 {
			return Policy{}, fmt.Errorf("%s: viewport cap must be > 0", t)
		}
		if c.MinTimeout <= 0 || c.MaxTimeout < c.MinTimeout {
			return Policy{}, fmt.Errorf("%s: invalid timeout range [%s, %s]", t, c.MinTimeout, c.MaxTimeout)
		}
		if c.Injections < InjectionsEager || c.Injections > InjectionsOff {
			return Policy{}, fmt.Errorf("%s: invalid injection policy %d", t, int(c.Injections))
		}
	}
	return Policy{thresholds: th, configs: configs}, nil
}

// TierForBytes returns the tier of a document of length n.
func (p Policy) TierForBytes(n int) Tier {
	switch {
	case n >= p.thresholds.LargeBytes:
		return Large
	case n >= p.thresholds.MediumBytes:
		return Medium
	default:
		return Small
	}
}

// Cfg returns the knobs for t. Out-of-range tiers are clamped.
func (p Policy) Cfg(t Tier) Config {
	if t < Small {
		t = Small
	}
	if t > Large {
		t = Large
	}
	return p.configs[t]
}

// Thresholds returns the policy's tier boundaries.
func (p Policy) Thresholds() Thresholds {
	return p.thresholds
}
