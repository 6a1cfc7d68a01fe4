package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariantKeyRoundTrip(t *testing.T) {
	v := &PhotoVariant{SizeTier: "medium", Format: "avif"}
	key := v.Key()
	assert.Equal(t, "medium-avif", key)

	tier, format := SplitVariantKey(key)
	assert.Equal(t, "medium", tier)
	assert.Equal(t, "avif", format)
}

func TestSplitVariantKey(t *testing.T) {
	tests := []struct {
		key, tier, format string
	}{
		{VariantOriginal, VariantOriginal, ""},
		{"xlarge-avif", "xlarge", "avif"},
		{"xlarge-jpeg", "xlarge", "jpeg"},
		{"thumbnail-webp", "thumbnail", "webp"},
		{"garbage", "garbage", ""},
		{"-leading", "-leading", ""},
		{"", "", ""},
	}
	for _, tc := range tests {
		tier, format := SplitVariantKey(tc.key)
		assert.Equal(t, tc.tier, tier, tc.key)
		assert.Equal(t, tc.format, format, tc.key)
	}
}

func TestAccessLevelValid(t *testing.T) {
	assert.True(t, AccessPublic.Valid())
	assert.True(t, AccessAuthenticated.Valid())
	assert.True(t, AccessPrivate.Valid())
	assert.False(t, AccessLevel("internal").Valid())
	assert.False(t, AccessLevel("").Valid())
}
