// Package scoring implements the nuclear state scoring core: panel
// aggregation, population statistics, the twelve axes, confidence,
// composites, regime classification, flags and per-sample reduction.
//
// Everything here is deterministic and single-threaded. The package does no
// I/O and does not log.
package scoring

import (
	"math"

	"github.com/ARyaskov/kira-nuclearqc/internal/kernels"
)

// Clip01 clamps x to [0,1]. NaN maps to 0.
func Clip01(x float64) float64 {
	if !(x > 0) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Rescale01 maps [min,max] linearly onto [0,1] and clamps. A degenerate
// window yields 0.
func Rescale01(x, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return Clip01((x - min) / (max - min))
}

// NormalizedEntropy returns the Shannon entropy of the positive values and
// that entropy divided by ln(k), k being the number of positive values.
// Both are 0 for a non-positive total; the normalized form is 0 for k <= 1.
func NormalizedEntropy(values []float64) (h, norm float64) {
	if len(values) == 0 || kernels.Sum(values) <= 0 {
		return 0, 0
	}
	h = kernels.Entropy(values)
	k := kernels.CountAbove(values, 0)
	if k < 2 {
		return h, 0
	}
	return h, h / math.Log(float64(k))
}
