// Package safe provides overflow-checked int64 arithmetic for fixed-point
// aggregation. A wrapped PnL sum is worse than a crash, so every operation
// panics at the exact overflow site.
package safe

import "math"

// SafeAdd returns a + b, panicking on int64 overflow.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("safe: add overflow")
	}
	return a + b
}

// SafeSub returns a - b, panicking on int64 overflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("safe: sub overflow")
	}
	return a - b
}

// SafeMul returns a * b, panicking on int64 overflow.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	// MinInt64 * -1 would also trap in the division check below.
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		panic("safe: mul overflow")
	}
	p := a * b
	if p/b != a {
		panic("safe: mul overflow")
	}
	return p
}
