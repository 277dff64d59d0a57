// Package safe provides overflow-checked int64 arithmetic for monetary values.
package safe

import (
	"fmt"
	"math"
)

// CheckedAdd returns a+b and false if the result overflows.
func CheckedAdd(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

// CheckedSub returns a-b and false if the result overflows.
func CheckedSub(a, b int64) (int64, bool) {
	if b == math.MinInt64 {
		return 0, false
	}
	return CheckedAdd(a, -b)
}

// CheckedMul returns a*b and false if the result overflows.
func CheckedMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		return 0, false
	}
	return c, true
}

// PercentFloor computes floor(a*pct/100) for non-negative operands without
// forming the full product, so it only overflows when the result does.
func PercentFloor(a, pct int64) (int64, bool) {
	if a < 0 || pct < 0 {
		return 0, false
	}
	hi, ok := CheckedMul(a/100, pct)
	if !ok {
		return 0, false
	}
	lo, ok := CheckedMul(a%100, pct)
	if !ok {
		return 0, false
	}
	return CheckedAdd(hi, lo/100)
}

// SafeAdd panics on overflow.
func SafeAdd(a, b int64) int64 {
	c, ok := CheckedAdd(a, b)
	if !ok {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d + %d", a, b))
	}
	return c
}

// SafeSub panics on overflow.
func SafeSub(a, b int64) int64 {
	c, ok := CheckedSub(a, b)
	if !ok {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d - %d", a, b))
	}
	return c
}
