package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// CeilDiv is ceil(n / d) for unsigned integers. d must be non-zero.
func CeilDiv[T constraints.Unsigned](n, d T) T {
	if n == 0 {
		return 0
	}
	return (n-1)/d + 1
}

// AlignUp rounds n up to the next multiple of align.
func AlignUp[T constraints.Unsigned](n, align T) T {
	if align == 0 {
		return n
	}
	return CeilDiv(n, align) * align
}
