package scoring

import (
	"fmt"
	"sort"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
)

// Signals are the per-cell panel-derived quantities read by confidence and
// flags.
type Signals struct {
	ProgramSum         float64
	SumTF              float64
	ProliferationShare float64

	KeyCoverageMedian float64
	KeyPanelsMissing  bool
	// PanelsUnmapped is set when any resolved panel, key or not, has no
	// gene in the matrix.
	PanelsUnmapped bool
	// PanelNonzeroFraction is detected panel members over all mappable
	// panel members.
	PanelNonzeroFraction float64

	KeyCoverageAvailable bool
	NonzeroAvailable     bool
}

// Aggregates holds per-cell panel sums, detections and coverage, laid out
// cell-major with NPanels entries per cell.
type Aggregates struct {
	NCells   int
	NPanels  int
	Sum      []float64
	Detected []int
	Coverage []float64
	Signals  []Signals
}

// Sums returns the panel sums of one cell in set order.
func (a *Aggregates) Sums(cell int) []float64 {
	return a.Sum[cell*a.NPanels : (cell+1)*a.NPanels]
}

// CoverageOf returns the panel coverage of one cell in set order.
func (a *Aggregates) CoverageOf(cell int) []float64 {
	return a.Coverage[cell*a.NPanels : (cell+1)*a.NPanels]
}

// PanelAggregator reduces a matrix to per-cell, per-panel statistics.
type PanelAggregator struct {
	set  *panels.Set
	keys []int

	program []int
	tf      []int
	prolif  []int

	// geneToPanels[row] lists the panels that contain row.
	geneToPanels [][]int
}

// NewAggregator prepares an aggregator for a resolved panel set. keys are
// the positions of the key panels.
func NewAggregator(set *panels.Set, keys []int) *PanelAggregator {
	return &PanelAggregator{
		set:     set,
		keys:    keys,
		program: set.ByGroup(panels.GroupProgram),
		tf:      append(set.ByGroup(panels.GroupTF), set.ByGroup(panels.GroupChromatin)...),
		prolif:  set.ByGroup(panels.GroupProliferation),
	}
}

func (pa *PanelAggregator) index(nGenes int) error {
	pa.geneToPanels = make([][]int, nGenes)
	for p, panel := range pa.set.Panels {
		for _, row := range panel.Rows {
			if row < 0 || row >= nGenes {
				return fmt.Errorf("%w: panel %q references row %d of %d", matrix.ErrDimensionMismatch, panel.ID, row, nGenes)
			}
			pa.geneToPanels[row] = append(pa.geneToPanels[row], p)
		}
	}
	return nil
}

// Aggregate computes panel statistics and signals for every cell.
func (pa *PanelAggregator) Aggregate(ds *matrix.Dataset) (*Aggregates, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	m := ds.Matrix
	if err := pa.index(m.NGenes()); err != nil {
		return nil, err
	}

	nCells, nPanels := m.NCells(), len(pa.set.Panels)
	agg := &Aggregates{
		NCells:   nCells,
		NPanels:  nPanels,
		Sum:      make([]float64, nCells*nPanels),
		Detected: make([]int, nCells*nPanels),
		Coverage: make([]float64, nCells*nPanels),
		Signals:  make([]Signals, nCells),
	}

	keysMissing, unmapped := false, false
	for _, k := range pa.keys {
		if len(pa.set.Panels[k].Rows) == 0 {
			keysMissing = true
		}
	}
	for _, panel := range pa.set.Panels {
		if len(panel.Rows) == 0 {
			unmapped = true
		}
	}
	mappable := pa.set.MappableGenes()
	keyCov := make([]float64, len(pa.keys))

	for c := 0; c < nCells; c++ {
		base := c * nPanels
		sums := agg.Sum[base : base+nPanels]
		detected := agg.Detected[base : base+nPanels]
		coverage := agg.Coverage[base : base+nPanels]

		rows, vals := m.Column(c)
		for i, r := range rows {
			v := vals[i]
			if v == 0 {
				continue
			}
			for _, p := range pa.geneToPanels[r] {
				sums[p] += v
				if v > 0 {
					detected[p]++
				}
			}
		}

		totalDetected := 0
		for p, panel := range pa.set.Panels {
			totalDetected += detected[p]
			if n := len(panel.Rows); n > 0 {
				coverage[p] = float64(detected[p]) / float64(n)
			}
		}

		sig := &agg.Signals[c]
		for _, p := range pa.program {
			sig.ProgramSum += sums[p]
		}
		for _, p := range pa.tf {
			sig.SumTF += sums[p]
		}
		var prolif float64
		for _, p := range pa.prolif {
			prolif += sums[p]
		}
		if sig.ProgramSum > 0 {
			sig.ProliferationShare = prolif / sig.ProgramSum
		}

		sig.KeyPanelsMissing = keysMissing
		sig.PanelsUnmapped = unmapped
		if len(pa.keys) > 0 {
			for i, k := range pa.keys {
				keyCov[i] = coverage[k]
			}
			sort.Float64s(keyCov)
			sig.KeyCoverageMedian = QuantileSorted(keyCov, 0.5)
			sig.KeyCoverageAvailable = true
		}
		if mappable > 0 {
			sig.PanelNonzeroFraction = float64(totalDetected) / float64(mappable)
			sig.NonzeroAvailable = true
		}
	}
	return agg, nil
}
