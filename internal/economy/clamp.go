package economy

import "golang.org/x/exp/constraints"

// Epsilon is the tolerance below which a quantity counts as zero.
const Epsilon = 1e-9

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NonNegative floors v at zero, absorbing float noise around zero.
func NonNegative[T constraints.Float](v T) T {
	if v < Epsilon {
		return 0
	}
	return v
}
