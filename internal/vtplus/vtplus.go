// Package vtplus holds the metered VT+ features, their limits and the plan
// rules that decide who is metered.
package vtplus

import (
	"fmt"
	"strings"
)

// Feature is a billable capability metered by the quota ledger.
type Feature string

const (
	DeepResearch Feature = "DR"
	ProSearch    Feature = "PS"
	RAG          Feature = "RAG"
)

// Features returns every metered feature in a stable order.
func Features() []Feature {
	return []Feature{DeepResearch, ProSearch, RAG}
}

func (f Feature) Valid() bool {
	switch f {
	case DeepResearch, ProSearch, RAG:
		return true
	}
	return false
}

func (f Feature) DisplayName() string {
	switch f {
	case DeepResearch:
		return "Deep Research"
	case ProSearch:
		return "Pro Search"
	case RAG:
		return "Personal AI Assistant"
	}
	return string(f)
}

// ParseFeature accepts either the feature code ("DR") or its long name
// ("deep_research"), case-insensitively.
func ParseFeature(s string) (Feature, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DR", "DEEP_RESEARCH":
		return DeepResearch, nil
	case "PS", "PRO_SEARCH":
		return ProSearch, nil
	case "RAG":
		return RAG, nil
	}
	return "", fmt.Errorf("unknown feature %q", s)
}

// Window is the reset period of a feature quota.
type Window string

const (
	Daily   Window = "daily"
	Monthly Window = "monthly"
)

func (w Window) Valid() bool {
	return w == Daily || w == Monthly
}

type Limit struct {
	Limit  int    `json:"limit"`
	Window Window `json:"window"`
}

// Limits maps every feature to its quota. It is built once at startup and
// never mutated afterwards.
type Limits map[Feature]Limit

func DefaultLimits() Limits {
	return Limits{
		DeepResearch: {Limit: 5, Window: Daily},
		ProSearch:    {Limit: 10, Window: Daily},
		RAG:          {Limit: 2000, Window: Monthly},
	}
}

// Validate reports the first feature without a usable entry.
func (l Limits) Validate() error {
	for _, f := range Features() {
		cfg, ok := l[f]
		if !ok {
			return fmt.Errorf("missing quota config for feature %s", f)
		}
		if cfg.Limit <= 0 {
			return fmt.Errorf("quota limit for feature %s must be positive, got %d", f, cfg.Limit)
		}
		if !cfg.Window.Valid() {
			return fmt.Errorf("invalid quota window %q for feature %s", cfg.Window, f)
		}
	}
	return nil
}

// PlanSlug identifies a subscription plan.
type PlanSlug string

const (
	PlanAnonymous PlanSlug = "anonymous"
	PlanBase      PlanSlug = "vt_base"
	PlanPlus      PlanSlug = "vt_plus"
)

// ParsePlan maps a stored plan slug to a known plan. Unknown values are
// treated as the base plan, which is never metered.
func ParsePlan(s string) PlanSlug {
	switch p := PlanSlug(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanAnonymous, PlanBase, PlanPlus:
		return p
	}
	return PlanBase
}

// User is the resolved caller identity handed to the quota core.
type User struct {
	ID       string   `json:"id"`
	PlanSlug PlanSlug `json:"plan_slug"`
}

func (u *User) IsVtPlus() bool {
	return u != nil && u.PlanSlug == PlanPlus
}
