// Package plans holds the static plan catalog and the mapping between plan
// tiers and billing provider price identifiers.
package plans

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tier identifies a subscription plan level.
type Tier string

// Tier constants define the catalog tiers.
const (
	TierFamily       Tier = "family"
	TierSingleAgency Tier = "single_agency"
	TierMultiAgency  Tier = "multi_agency"
)

// PriceUnit describes what a plan price is charged per.
type PriceUnit string

// PriceUnit constants define billing units.
const (
	PriceUnitCareRecipient PriceUnit = "care_recipient"
	PriceUnitSeat          PriceUnit = "seat"
)

// ErrUnknownTier indicates a tier that is not part of the catalog.
var ErrUnknownTier = errors.New("plans: unknown tier")

// ErrMissingPriceID indicates a tier without a configured provider price.
var ErrMissingPriceID = errors.New("plans: missing price id")

// Limits caps the resources an account may hold on a tier.
type Limits struct {
	MaxElders  int64 `json:"max_elders"`
	MaxMembers int64 `json:"max_members"`
	StorageMB  int64 `json:"storage_mb"`
}

// StorageBytes returns the storage limit in bytes.
func (l Limits) StorageBytes() int64 {
	return l.StorageMB * 1024 * 1024
}

// Plan is an immutable catalog entry.
type Plan struct {
	Tier              Tier      `json:"tier"`
	Name              string    `json:"name"`
	MonthlyPriceCents int64     `json:"monthly_price_cents"`
	PriceUnit         PriceUnit `json:"price_unit"`
	Limits            Limits    `json:"limits"`
	Rank              int       `json:"rank"`
	Features          []string  `json:"features,omitempty"`
}

var catalog = map[Tier]Plan{
	TierFamily: {
		Tier:              TierFamily,
		Name:              "Family",
		MonthlyPriceCents: 999,
		PriceUnit:         PriceUnitCareRecipient,
		Limits:            Limits{MaxElders: 2, MaxMembers: 5, StorageMB: 1024},
		Rank:              1,
		Features:          []string{"medication-log", "diet-log", "shared-calendar"},
	},
	TierSingleAgency: {
		Tier:              TierSingleAgency,
		Name:              "Single Agency",
		MonthlyPriceCents: 2999,
		PriceUnit:         PriceUnitSeat,
		Limits:            Limits{MaxElders: 15, MaxMembers: 3, StorageMB: 10 * 1024},
		Rank:              2,
		Features:          []string{"medication-log", "diet-log", "shared-calendar", "shift-scheduling", "ai-summaries"},
	},
	TierMultiAgency: {
		Tier:              TierMultiAgency,
		Name:              "Multi Agency",
		MonthlyPriceCents: 7999,
		PriceUnit:         PriceUnitSeat,
		Limits:            Limits{MaxElders: 100, MaxMembers: 25, StorageMB: 50 * 1024},
		Rank:              3,
		Features: []string{
			"medication-log",
			"diet-log",
			"shared-calendar",
			"shift-scheduling",
			"ai-summaries",
			"gps-shift-verification",
			"burnout-insights",
			"audit-export",
		},
	},
}

// All returns the catalog ordered by rank.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, plan := range catalog {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Lookup returns the catalog entry for a tier.
func Lookup(tier Tier) (Plan, error) {
	plan, ok := catalog[tier]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownTier, string(tier))
	}
	return plan, nil
}

// MustLookup returns the catalog entry for a tier and panics on unknown tiers.
// Use only with tier constants.
func MustLookup(tier Tier) Plan {
	plan, err := Lookup(tier)
	if err != nil {
		panic(err)
	}
	return plan
}

// ParseTier normalizes user input into a catalog tier.
func ParseTier(raw string) (Tier, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	tier := Tier(normalized)
	if _, ok := catalog[tier]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
	return tier, nil
}

// Direction describes how a plan change moves through the ranks.
type Direction int

// Direction constants.
const (
	DirectionSame Direction = iota
	DirectionUpgrade
	DirectionDowngrade
)

// String returns the lowercase direction name.
func (d Direction) String() string {
	switch d {
	case DirectionUpgrade:
		return "upgrade"
	case DirectionDowngrade:
		return "downgrade"
	default:
		return "same"
	}
}

// Compare reports the direction of a move from one tier to another.
func Compare(from, to Tier) (Direction, error) {
	fromPlan, err := Lookup(from)
	if err != nil {
		return DirectionSame, err
	}
	toPlan, err := Lookup(to)
	if err != nil {
		return DirectionSame, err
	}
	switch {
	case toPlan.Rank > fromPlan.Rank:
		return DirectionUpgrade, nil
	case toPlan.Rank < fromPlan.Rank:
		return DirectionDowngrade, nil
	default:
		return DirectionSame, nil
	}
}
