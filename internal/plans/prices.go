package plans

import (
	"fmt"
	"strings"
)

// Catalog resolves billing provider price identifiers for catalog tiers.
type Catalog struct {
	priceIDs map[Tier]string
	tiers    map[string]Tier
}

// NewCatalog builds a Catalog from a tier -> price id mapping. Keys that are
// not catalog tiers are rejected so configuration typos surface at startup.
func NewCatalog(priceIDs map[string]string) (*Catalog, error) {
	c := &Catalog{
		priceIDs: make(map[Tier]string, len(priceIDs)),
		tiers:    make(map[string]Tier, len(priceIDs)),
	}
	for rawTier, rawPrice := range priceIDs {
		tier, err := ParseTier(rawTier)
		if err != nil {
			return nil, err
		}
		priceID := strings.TrimSpace(rawPrice)
		if priceID == "" {
			continue
		}
		if existing, ok := c.tiers[priceID]; ok && existing != tier {
			return nil, fmt.Errorf("plans: price id %q mapped to both %s and %s", priceID, existing, tier)
		}
		c.priceIDs[tier] = priceID
		c.tiers[priceID] = tier
	}
	return c, nil
}

// PriceID returns the provider price identifier for tier.
func (c *Catalog) PriceID(tier Tier) (string, error) {
	if _, err := Lookup(tier); err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingPriceID, tier)
	}
	priceID, ok := c.priceIDs[tier]
	if !ok || priceID == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingPriceID, tier)
	}
	return priceID, nil
}

// TierForPrice maps a provider price identifier back to its tier.
func (c *Catalog) TierForPrice(priceID string) (Tier, error) {
	if c == nil {
		return "", fmt.Errorf("%w: price %q", ErrUnknownTier, priceID)
	}
	tier, ok := c.tiers[strings.TrimSpace(priceID)]
	if !ok {
		return "", fmt.Errorf("%w: price %q", ErrUnknownTier, priceID)
	}
	return tier, nil
}

// Missing lists catalog tiers without a configured price id.
func (c *Catalog) Missing() []Tier {
	var out []Tier
	for _, plan := range All() {
		if c == nil || c.priceIDs[plan.Tier] == "" {
			out = append(out, plan.Tier)
		}
	}
	return out
}
