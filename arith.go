// arith.go: overflow-checked integer arithmetic and numeric helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"cmp"
	"math"
)

// SafeAdd returns a+b, reporting ErrCodeArithOverflow instead of
// wrapping around.
func SafeAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, NewArithOverflowError("add", a, b)
	}
	return sum, nil
}

// SafeSub returns a-b with overflow checking.
func SafeSub(a, b int64) (int64, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, NewArithOverflowError("sub", a, b)
	}
	return diff, nil
}

// SafeMul returns a*b with overflow checking.
func SafeMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, NewArithOverflowError("mul", a, b)
	}
	// MinInt64 * -1 survives the division check above.
	if a == math.MinInt64 && b == -1 || b == math.MinInt64 && a == -1 {
		return 0, NewArithOverflowError("mul", a, b)
	}
	return product, nil
}

// SafeDiv returns a/b, reporting ErrCodeDivideByZero for a zero
// divisor and ErrCodeArithOverflow for MinInt64 / -1.
func SafeDiv(a, b int64) (int64, error) {
	if b == 0 {
		return 0, NewDivideByZeroError()
	}
	if a == math.MinInt64 && b == -1 {
		return 0, NewArithOverflowError("div", a, b)
	}
	return a / b, nil
}

// SumInt64 adds the values with overflow checking, returning the first
// overflow encountered.
func SumInt64(vs ...int64) (int64, error) {
	var total int64
	for _, v := range vs {
		sum, err := SafeAdd(total, v)
		if err != nil {
			return 0, err
		}
		total = sum
	}
	return total, nil
}

// Clamp limits v to the [lo, hi] range.
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundTo rounds v half away from zero to the given number of decimal
// places. Negative places round to the left of the decimal point.
func RoundTo(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// Percent returns part/total as a percentage. A zero total yields 0
// rather than NaN so callers can feed unchecked counters straight in.
func Percent(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}
