package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lensworks/aperture/internal/model"
)

var tierOrder = []string{"thumbnail", "small", "medium", "large", "xlarge"}

func variant(tier, format string) *model.PhotoVariant {
	return &model.PhotoVariant{SizeTier: tier, Format: format, Path: tier + "." + format}
}

func TestDisplayVariantPreferredFormat(t *testing.T) {
	variants := []*model.PhotoVariant{
		variant("medium", "avif"),
		variant("medium", "webp"),
		variant("medium", "jpeg"),
	}

	v := DisplayVariant(variants, tierOrder, "medium", "webp")
	assert.Equal(t, "webp", v.Format)
}

func TestDisplayVariantFormatChain(t *testing.T) {
	// AVIF missing at the tier: fall through the chain in order.
	variants := []*model.PhotoVariant{
		variant("medium", "webp"),
		variant("medium", "jpeg"),
	}

	v := DisplayVariant(variants, tierOrder, "medium", "avif")
	assert.Equal(t, "webp", v.Format)

	v = DisplayVariant([]*model.PhotoVariant{variant("medium", "jpeg")}, tierOrder, "medium", "avif")
	assert.Equal(t, "jpeg", v.Format)
}

func TestDisplayVariantFallsToSmallerTier(t *testing.T) {
	// Source was too small for medium; the request degrades to the largest
	// tier that exists.
	variants := []*model.PhotoVariant{
		variant("thumbnail", "avif"),
		variant("small", "avif"),
	}

	v := DisplayVariant(variants, tierOrder, "xlarge", "")
	assert.Equal(t, "small", v.SizeTier)
}

func TestDisplayVariantNeverUpgrades(t *testing.T) {
	// Larger tiers than requested are never served.
	variants := []*model.PhotoVariant{
		variant("large", "avif"),
	}

	v := DisplayVariant(variants, tierOrder, "small", "")
	assert.Nil(t, v)
}

func TestDisplayVariantUnknownTierStartsAtLargest(t *testing.T) {
	variants := []*model.PhotoVariant{variant("xlarge", "jpeg")}

	v := DisplayVariant(variants, tierOrder, "bogus", "")
	assert.NotNil(t, v)
	assert.Equal(t, "xlarge", v.SizeTier)
}

func TestDisplayVariantEmpty(t *testing.T) {
	assert.Nil(t, DisplayVariant(nil, tierOrder, "medium", "avif"))
}
