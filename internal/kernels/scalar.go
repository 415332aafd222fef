//go:build !kernels_unrolled

package kernels

const backend = "scalar"

// Sum adds values in index order.
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func entropyTerms(values []float64, total float64) float64 {
	var h float64
	for _, v := range values {
		h -= plogp(v / total)
	}
	return h
}
