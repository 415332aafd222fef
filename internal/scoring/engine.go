package scoring

import (
	"fmt"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// CellRecord is the finalized result for one cell.
type CellRecord struct {
	Cell      int
	Barcode   string
	Sample    string
	Condition string
	Ambient   bool

	ExpressedGenes int
	Inputs         CellInputs
	Signals        Signals

	Axes         Axes
	AxisVariance float64
	Composites   Composites
	Confidence   Confidence
	Regime       Regime
	Flags        FlagSet
	Drivers      Drivers

	TopProgramPanel string
	TopProgramShare float64
}

// Result is the output of one engine run.
type Result struct {
	Cells      []CellRecord
	Aggregates *Aggregates
	Population *Population
	Panels     *panels.Set
}

// Engine wires the scoring components for one profile and panel set.
type Engine struct {
	p          *profile.Profile
	set        *panels.Set
	keys       []int
	aggregator *PanelAggregator
	composite  *CompositeEngine
	classifier *RegimeClassifier
	program    []int
}

// NewEngine validates the profile and resolves the key panels.
func NewEngine(p *profile.Profile, set *panels.Set, keyPanels []string) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	keys, err := set.KeyIndices(keyPanels)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key panels: %w", err)
	}
	return &Engine{
		p:          p,
		set:        set,
		keys:       keys,
		aggregator: NewAggregator(set, keys),
		composite:  NewCompositeEngine(p),
		classifier: NewClassifier(p),
		program:    set.ByGroup(panels.GroupProgram),
	}, nil
}

// Profile returns the profile the engine scores with.
func (e *Engine) Profile() *profile.Profile { return e.p }

// Run scores every cell of the dataset. Population statistics are computed
// once between the two passes and are read-only afterwards.
func (e *Engine) Run(ds *matrix.Dataset) (*Result, error) {
	agg, err := e.aggregator.Aggregate(ds)
	if err != nil {
		return nil, err
	}
	m := ds.Matrix
	n := m.NCells()
	axes := NewAxisEngine(e.p, e.set, m.NGenes())

	inputs := make([]CellInputs, n)
	for c := 0; c < n; c++ {
		_, vals := m.Column(c)
		inputs[c] = axes.Prepare(vals, agg.Sums(c))
	}

	pop := Summarize(inputs, e.p)

	cells := make([]CellRecord, n)
	for c := 0; c < n; c++ {
		in := &inputs[c]
		rec := &cells[c]
		rec.Cell = c
		rec.Barcode = ds.Barcodes[c]
		rec.Sample = ds.SampleOf(c)
		rec.Condition = ds.ConditionOf(c)
		rec.Ambient = ds.AmbientRiskOf(c)
		rec.ExpressedGenes = in.ExpressedGenes
		rec.Inputs = *in
		rec.Signals = agg.Signals[c]

		rec.Axes = axes.Finalize(in, pop)
		rec.AxisVariance = rec.Axes.Variance()

		st := &cellState{
			axes:     &rec.Axes,
			in:       in,
			sig:      &rec.Signals,
			axisVar:  rec.AxisVariance,
			ambient:  rec.Ambient,
			nGenes:   m.NGenes(),
			minGenes: e.p.Axes.MinExprGenes,
		}
		rec.Confidence = e.composite.confidence(st)
		rec.Composites, rec.Drivers = e.composite.compute(st, rec.Confidence.Value, pop)

		rec.Regime = e.classifier.Classify(&RegimeInput{
			ExpressedGenes: in.ExpressedGenes,
			GeneEntropy:    in.GeneEntropy,
			ProgramSum:     rec.Signals.ProgramSum,
			TBI:            rec.Axes.TBI,
			RCI:            rec.Axes.RCI,
			PDS:            rec.Axes.PDS,
			TRS:            rec.Axes.TRS,
			NSAI:           rec.Axes.NSAI,
			IAA:            rec.Axes.IAA,
			DFA:            rec.Axes.DFA,
			NPS:            rec.Composites.NPS,
		})
		rec.Flags = EvaluateFlags(e.p, &FlagInput{
			ExpressedGenes: in.ExpressedGenes,
			Signals:        &rec.Signals,
			Ambient:        rec.Ambient,
			Axes:           &rec.Axes,
			AxisVariance:   rec.AxisVariance,
			Confidence:     rec.Confidence.Value,
		})
		rec.TopProgramPanel, rec.TopProgramShare = e.topProgram(agg.Sums(c))
	}

	return &Result{Cells: cells, Aggregates: agg, Population: pop, Panels: e.set}, nil
}

// topProgram returns the program panel with the largest sum and its share
// of the program total. Ties keep the earlier panel.
func (e *Engine) topProgram(sums []float64) (string, float64) {
	var total, best float64
	bestIdx := -1
	for _, p := range e.program {
		v := sums[p]
		total += v
		if bestIdx < 0 || v > best {
			best, bestIdx = v, p
		}
	}
	if bestIdx < 0 || total <= 0 {
		return "", 0
	}
	return e.set.Panels[bestIdx].ID, best / total
}
