// Package kernels holds the inner numeric loops of the scoring core.
//
// Two implementations exist: a plain scalar loop and a four-way unrolled loop
// selected with the kernels_unrolled build tag. Both accumulate into a single
// float64 in index order, so the selected path never changes a result bit.
package kernels

import "math"

// Backend reports which implementation was compiled in.
func Backend() string {
	return backend
}

// Max returns the largest value, or 0 for an empty slice.
func Max(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return 0
	}
	return m
}

// Entropy returns the Shannon entropy (natural log) of the distribution
// obtained by dividing each value by the total. Non-positive shares are
// ignored. Returns 0 for empty input or a non-positive total.
func Entropy(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := Sum(values)
	if total <= 0 {
		return 0
	}
	return entropyTerms(values, total)
}

// CountAbove returns the number of values strictly greater than threshold.
func CountAbove(values []float64, threshold float64) int {
	n := 0
	for _, v := range values {
		if v > threshold {
			n++
		}
	}
	return n
}

// plogp returns p*ln(p) for p > 0 and 0 otherwise. The explicit conversion
// keeps the compiler from fusing the multiply into a later add.
func plogp(p float64) float64 {
	if p <= 0 {
		return 0
	}
	return float64(p * math.Log(p))
}
