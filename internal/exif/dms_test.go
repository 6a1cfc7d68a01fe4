package exif

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDMSToDecimal(t *testing.T) {
	tests := []struct {
		name          string
		deg, min, sec Rational
		ref           string
		want          float64
	}{
		{
			name: "north positive",
			deg:  Rational{40, 1}, min: Rational{26, 1}, sec: Rational{46, 1},
			ref:  "N",
			want: 40.0 + 26.0/60 + 46.0/3600,
		},
		{
			name: "south negated",
			deg:  Rational{33, 1}, min: Rational{52, 1}, sec: Rational{0, 1},
			ref:  "S",
			want: -(33.0 + 52.0/60),
		},
		{
			name: "west negated",
			deg:  Rational{122, 1}, min: Rational{25, 1}, sec: Rational{30, 1},
			ref:  "W",
			want: -(122.0 + 25.0/60 + 30.0/3600),
		},
		{
			name: "fractional seconds",
			deg:  Rational{51, 1}, min: Rational{30, 1}, sec: Rational{1234, 100},
			ref:  "N",
			want: 51.0 + 30.0/60 + 12.34/3600,
		},
		{
			name: "unknown ref treated as positive",
			deg:  Rational{10, 1}, min: Rational{0, 1}, sec: Rational{0, 1},
			ref:  "",
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DMSToDecimal(tt.deg, tt.min, tt.sec, tt.ref)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDMSToDecimalZeroDenominator(t *testing.T) {
	// A zero denominator zeroes that component instead of failing the whole
	// conversion.
	got := DMSToDecimal(Rational{40, 1}, Rational{30, 0}, Rational{0, 1}, "N")
	assert.InDelta(t, 40.0, got, 1e-9)

	got = DMSToDecimal(Rational{0, 0}, Rational{0, 0}, Rational{0, 0}, "S")
	assert.Zero(t, got)
}

func TestRationalFloat(t *testing.T) {
	f, ok := Rational{1, 4}.Float()
	assert.True(t, ok)
	assert.InDelta(t, 0.25, f, 1e-9)

	_, ok = Rational{1, 0}.Float()
	assert.False(t, ok)
}

func TestExposureString(t *testing.T) {
	assert.Equal(t, "1/250", ExposureString(1, 250))
	assert.Equal(t, "1/8000", ExposureString(1, 8000))
	assert.Equal(t, "10/1", ExposureString(10, 1))
	assert.Equal(t, "5/10", ExposureString(5, 10))
}
