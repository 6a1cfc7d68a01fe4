package imaging

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
)

// TierSpec is one named size tier: a target maximum dimension plus the base
// quality used to derive per-format encoder settings.
type TierSpec struct {
	Name    string `json:"name"`
	MaxDim  int    `json:"max_dim"`
	Quality int    `json:"quality"`
}

// defaultTiers is the built-in size table, smallest first. Table order drives
// both encode order and the display fallback chain.
var defaultTiers = []TierSpec{
	{Name: "thumbnail", MaxDim: 400, Quality: 80},
	{Name: "small", MaxDim: 800, Quality: 80},
	{Name: "medium", MaxDim: 1200, Quality: 82},
	{Name: "large", MaxDim: 1920, Quality: 85},
	{Name: "xlarge", MaxDim: 2560, Quality: 85},
}

// SpecProvider holds the tier table. The table is shared, read-only at
// encode time and may be hot-reloaded; encoders snapshot it at the start of
// each call, so in-flight encodes finish on the table they started with.
type SpecProvider struct {
	mu    sync.RWMutex
	tiers []TierSpec
}

// NewSpecProvider builds a provider from the built-in table, optionally
// replaced by a JSON override (the DERIVATIVE_SPEC_JSON env setting).
func NewSpecProvider(jsonOverride string) (*SpecProvider, error) {
	tiers := defaultTiers
	if jsonOverride != "" {
		var override []TierSpec
		if err := json.Unmarshal([]byte(jsonOverride), &override); err != nil {
			return nil, fmt.Errorf("imaging: invalid tier spec: %w", err)
		}
		if err := validateTiers(override); err != nil {
			return nil, err
		}
		tiers = override
	}
	return &SpecProvider{tiers: tiers}, nil
}

// Tiers returns a snapshot copy of the current table.
func (p *SpecProvider) Tiers() []TierSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]TierSpec, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// TierNames returns the tier names in table order.
func (p *SpecProvider) TierNames() []string {
	tiers := p.Tiers()
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name
	}
	return names
}

// Update replaces the table. Only encodes started after the swap see the new
// tiers.
func (p *SpecProvider) Update(tiers []TierSpec) error {
	if err := validateTiers(tiers); err != nil {
		return err
	}
	p.mu.Lock()
	p.tiers = append([]TierSpec(nil), tiers...)
	p.mu.Unlock()
	return nil
}

func validateTiers(tiers []TierSpec) error {
	if len(tiers) == 0 {
		return fmt.Errorf("imaging: tier table must not be empty")
	}
	seen := map[string]bool{}
	for _, t := range tiers {
		if t.Name == "" || t.MaxDim <= 0 {
			return fmt.Errorf("imaging: invalid tier %+v", t)
		}
		if t.Quality <= 0 || t.Quality > 100 {
			return fmt.Errorf("imaging: tier %q quality out of range", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("imaging: duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
