//go:build kernels_unrolled

package kernels

const backend = "unrolled"

// Sum adds values in index order, four per iteration. A single accumulator
// keeps the rounding sequence identical to the scalar loop.
func Sum(values []float64) float64 {
	var s float64
	i := 0
	for ; i+4 <= len(values); i += 4 {
		v := values[i : i+4 : i+4]
		s += v[0]
		s += v[1]
		s += v[2]
		s += v[3]
	}
	for ; i < len(values); i++ {
		s += values[i]
	}
	return s
}

func entropyTerms(values []float64, total float64) float64 {
	var h float64
	i := 0
	for ; i+4 <= len(values); i += 4 {
		v := values[i : i+4 : i+4]
		h -= plogp(v[0] / total)
		h -= plogp(v[1] / total)
		h -= plogp(v[2] / total)
		h -= plogp(v[3] / total)
	}
	for ; i < len(values); i++ {
		h -= plogp(values[i] / total)
	}
	return h
}
