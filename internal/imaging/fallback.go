package imaging

import (
	"github.com/lensworks/aperture/internal/model"
)

// formatFallback is the delivery preference order when the requested format
// is unavailable at a tier.
var formatFallback = []string{"avif", "webp", "jpeg"}

// DisplayVariant picks the variant to serve for (tier, preferred format).
// It walks preferred -> avif -> webp -> jpeg at the requested tier, then the
// same chain at each smaller tier. tierOrder is the table order, smallest
// first. Returns nil when the photo has no variants at or below the tier.
func DisplayVariant(variants []*model.PhotoVariant, tierOrder []string, tier, preferred string) *model.PhotoVariant {
	byTier := map[string]map[string]*model.PhotoVariant{}
	for _, v := range variants {
		m := byTier[v.SizeTier]
		if m == nil {
			m = map[string]*model.PhotoVariant{}
			byTier[v.SizeTier] = m
		}
		m[v.Format] = v
	}

	start := len(tierOrder) - 1
	for i, name := range tierOrder {
		if name == tier {
			start = i
			break
		}
	}

	for i := start; i >= 0; i-- {
		m := byTier[tierOrder[i]]
		if m == nil {
			continue
		}
		if preferred != "" {
			if v := m[preferred]; v != nil {
				return v
			}
		}
		for _, f := range formatFallback {
			if v := m[f]; v != nil {
				return v
			}
		}
	}
	return nil
}
