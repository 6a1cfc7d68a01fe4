package exif

import "fmt"

// Rational is a raw EXIF rational: numerator over denominator, unreduced.
type Rational struct {
	Num int64
	Den int64
}

// Float converts the rational to a float64. ok is false when the denominator
// is zero, which callers treat as "field absent".
func (r Rational) Float() (float64, bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

// component converts one DMS component, yielding 0 for a zero denominator.
// This keeps DMSToDecimal total at the cost of letting a malformed tag
// contribute a zero component; see DMSToDecimal.
func (r Rational) component() float64 {
	f, ok := r.Float()
	if !ok {
		return 0
	}
	return f
}

// DMSToDecimal converts a degrees/minutes/seconds tuple plus hemisphere
// reference into signed decimal degrees. References "S" and "W" negate the
// magnitude; any other reference (including absent) is treated as positive.
//
// A zero denominator in any component yields 0 for that component rather than
// failing the conversion. The function is total; callers should treat an
// all-zero result with suspicion when the source tag looked malformed.
func DMSToDecimal(deg, min, sec Rational, ref string) float64 {
	dec := deg.component() + min.component()/60 + sec.component()/3600
	if ref == "S" || ref == "W" {
		return -dec
	}
	return dec
}

// ExposureString renders an exposure-time rational the way photographers
// read it: "1/250" when the numerator is 1, "num/den" otherwise.
func ExposureString(num, den int64) string {
	if num == 1 {
		return fmt.Sprintf("1/%d", den)
	}
	return fmt.Sprintf("%d/%d", num, den)
}
