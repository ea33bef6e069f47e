package numutil

import (
	"github.com/shopspring/decimal"
)

var (
	// BpsDenominator is the basis-point scale (1 bps = 1/10000).
	BpsDenominator = decimal.NewFromInt(10_000)

	// One is the decimal constant 1.
	One = decimal.NewFromInt(1)

	// Hundred is the decimal constant 100.
	Hundred = decimal.NewFromInt(100)
)

// BpsToRatio converts a basis-point value into a plain ratio (25 bps -> 0.0025).
func BpsToRatio(bps decimal.Decimal) decimal.Decimal {
	return bps.Div(BpsDenominator)
}

// RatioToBps converts a plain ratio into basis points (0.0025 -> 25 bps).
func RatioToBps(ratio decimal.Decimal) decimal.Decimal {
	return ratio.Mul(BpsDenominator)
}

// ApplyBps scales an amount by a bps value: amount * bps / 10000.
func ApplyBps(amount, bps decimal.Decimal) decimal.Decimal {
	return amount.Mul(bps).Div(BpsDenominator)
}

// Clamp bounds v into [lo, hi]. lo must not exceed hi.
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Min returns the smaller of two decimals.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of two decimals.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// FloorAmount computes the protected minimum reserve level for a leg.
// A fill may leave the reserve exactly at this value but never below it.
func FloorAmount(reserves, floorBps decimal.Decimal) decimal.Decimal {
	if reserves.Sign() <= 0 {
		return decimal.Zero
	}
	return ApplyBps(reserves, floorBps)
}

// DeltaBps returns the symmetric percentage disagreement between two prices
// in basis points: |a - b| / mid(a, b) * 10000. Zero when either side is
// non-positive, since no meaningful comparison exists.
func DeltaBps(a, b decimal.Decimal) decimal.Decimal {
	if a.Sign() <= 0 || b.Sign() <= 0 {
		return decimal.Zero
	}
	mid := a.Add(b).Div(decimal.NewFromInt(2))
	return RatioToBps(a.Sub(b).Abs().Div(mid))
}
