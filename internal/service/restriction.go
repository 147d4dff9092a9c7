package service

import (
	"math"

	"github.com/shopspring/decimal"
)

// restrictionFraction is the share of an allocation that may be spent per week
var restrictionFraction = decimal.RequireFromString("0.2")

var maxWeeklyLimit = decimal.NewFromInt(math.MaxInt64)

// ComputeWeeklyLimit returns floor(maxAmount * 0.2). The product is taken in
// decimal so that e.g. 35 yields 7 rather than a float just below it.
// ok is false when the limit does not fit in an int64.
func ComputeWeeklyLimit(maxAmount float64) (limit int64, ok bool) {
	if math.IsNaN(maxAmount) || math.IsInf(maxAmount, 0) {
		return 0, false
	}
	floored := decimal.NewFromFloat(maxAmount).Mul(restrictionFraction).Floor()
	if floored.GreaterThan(maxWeeklyLimit) || floored.IsNegative() {
		return 0, false
	}
	return floored.IntPart(), true
}

// addAmounts sums two amounts without accumulating binary rounding error
func addAmounts(a, b float64) float64 {
	sum, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return sum
}
