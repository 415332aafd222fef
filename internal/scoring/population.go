package scoring

import (
	"math"
	"sort"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// QuantileSorted returns the order statistic at index ceil((n-1)*q) of an
// ascending slice, clamped to the valid range. Empty input yields 0.
func QuantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n-1) * q))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Quantile sorts a copy of values and returns QuantileSorted. The result
// depends only on the multiset of values, not on their order.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return QuantileSorted(sorted, q)
}

// Window holds the p70/p85 pair of the relative-activation transform.
type Window struct {
	Low        float64
	High       float64
	Degenerate bool
}

// NewWindow computes the relative-activation window of a population.
func NewWindow(values []float64, qLow, qHigh float64) Window {
	if len(values) <= 1 {
		return Window{Degenerate: true}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	w := Window{Low: QuantileSorted(sorted, qLow), High: QuantileSorted(sorted, qHigh)}
	w.Degenerate = w.High <= w.Low
	return w
}

// Relative maps v onto the window. Degenerate windows yield 0 for every cell.
func (w Window) Relative(v float64) float64 {
	if w.Degenerate {
		return 0
	}
	return Clip01((v - w.Low) / (w.High - w.Low))
}

// Population is the per-run summary computed between the two passes. It is
// written once and then only read by per-cell finalization.
type Population struct {
	IAA Window
	DFA Window
	CEA Window

	ReplicationStress Window
	Checkpoint        Window
	ForkStability     Window
	HR                Window
	NHEJ              Window
	Compaction        Window
	OpenState         Window

	// P90 of the finalized iaa, dfa and nsai axes, read by the rls floor rule.
	P90IAA  float64
	P90DFA  float64
	P90NSAI float64
}

// Summarize builds the population summary from pass-one inputs.
func Summarize(cells []CellInputs, p *profile.Profile) *Population {
	n := len(cells)
	column := func(get func(*RawInputs) float64) []float64 {
		out := make([]float64, n)
		for i := range cells {
			out[i] = get(&cells[i].Raw)
		}
		return out
	}
	lo, hi := p.Axes.RelP70, p.Axes.RelP85
	win := func(get func(*RawInputs) float64) Window {
		return NewWindow(column(get), lo, hi)
	}

	pop := &Population{
		IAA:               win(func(r *RawInputs) float64 { return r.IAA }),
		DFA:               win(func(r *RawInputs) float64 { return r.DFA }),
		CEA:               win(func(r *RawInputs) float64 { return r.CEA }),
		ReplicationStress: win(func(r *RawInputs) float64 { return r.ReplicationStress }),
		Checkpoint:        win(func(r *RawInputs) float64 { return r.Checkpoint }),
		ForkStability:     win(func(r *RawInputs) float64 { return r.ForkStability }),
		HR:                win(func(r *RawInputs) float64 { return r.HR }),
		NHEJ:              win(func(r *RawInputs) float64 { return r.NHEJ }),
		Compaction:        win(func(r *RawInputs) float64 { return r.Compaction }),
		OpenState:         win(func(r *RawInputs) float64 { return r.OpenState }),
	}

	iaa := make([]float64, n)
	dfa := make([]float64, n)
	nsai := make([]float64, n)
	for i := range cells {
		r := &cells[i].Raw
		iaa[i] = activate(p.ActivationMode, r.IAA, pop.IAA.Relative(r.IAA))
		dfa[i] = activate(p.ActivationMode, r.DFA, pop.DFA.Relative(r.DFA))
		nsai[i] = cells[i].NSAI
	}
	pop.P90IAA = Quantile(iaa, 0.90)
	pop.P90DFA = Quantile(dfa, 0.90)
	pop.P90NSAI = Quantile(nsai, 0.90)
	return pop
}
