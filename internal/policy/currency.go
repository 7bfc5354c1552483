package policy

import (
	"math"
	"strings"
)

// zeroDecimalCurrencies have no minor unit; processor amounts are sent as-is.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// IsZeroDecimal reports whether currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]
	return ok
}

// MinorUnitFactor is the number of minor units in one major unit.
func MinorUnitFactor(currency string) int64 {
	if IsZeroDecimal(currency) {
		return 1
	}
	return 100
}

// ToMinorUnits converts a major-unit amount into the processor's integer
// minor-unit convention, rounding half-up.
func ToMinorUnits(amount float64, currency string) int64 {
	return roundHalfUp(amount * float64(MinorUnitFactor(currency)))
}

// FromMinorUnits converts an integer minor-unit amount back to major units.
func FromMinorUnits(minor int64, currency string) float64 {
	return float64(minor) / float64(MinorUnitFactor(currency))
}

// RoundToMinor rounds a major-unit amount to the currency's smallest unit.
func RoundToMinor(amount float64, currency string) float64 {
	return FromMinorUnits(ToMinorUnits(amount, currency), currency)
}

// roundHalfUp rounds to the nearest integer, ties away from zero. The epsilon
// absorbs binary representation error such as 1.005*100 = 100.49999.
func roundHalfUp(x float64) int64 {
	const eps = 1e-9
	if x < 0 {
		return -int64(math.Floor(-x + 0.5 + eps))
	}
	return int64(math.Floor(x + 0.5 + eps))
}
