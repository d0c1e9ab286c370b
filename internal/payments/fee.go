package payments

import "math"

// ServiceFeePercent is added on top of the vet's consultation fee.
const ServiceFeePercent = 5

// MaxFeeMinor is the largest fee whose charge still fits in an int64.
const MaxFeeMinor = (math.MaxInt64 - 50) / (100 + ServiceFeePercent)

// MajorToMinor converts a major-unit amount (e.g. rupees) to minor units,
// rounding half away from zero.
func MajorToMinor(major float64) int64 {
	return int64(math.Round(major * 100))
}

// FeeMinor validates a client-supplied fee and converts it to minor units.
// It reports false for non-finite, non-positive or oversized fees.
func FeeMinor(major float64) (int64, bool) {
	if math.IsNaN(major) || major <= 0 || math.Round(major*100) > float64(MaxFeeMinor) {
		return 0, false
	}
	minor := MajorToMinor(major)
	if minor <= 0 || minor > MaxFeeMinor {
		return 0, false
	}
	return minor, true
}

// ChargeMinor returns the amount to charge for a fee given in minor units:
// the fee plus the service percentage, rounded to the nearest minor unit.
func ChargeMinor(feeMinor int64) int64 {
	return (feeMinor*(100+ServiceFeePercent) + 50) / 100
}
