package scoring

import (
	"math"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// Confidence is a per-cell confidence value with its four components. The
// meaning of the components depends on the scoring mode.
type Confidence struct {
	Value     float64
	Breakdown [4]float64
}

// cellState is everything confidence and composites read for one cell.
type cellState struct {
	axes     *Axes
	in       *CellInputs
	sig      *Signals
	axisVar  float64
	ambient  bool
	nGenes   int
	minGenes int
}

func (c *cellState) exprFraction() float64 {
	n := c.nGenes
	if n <= 0 {
		n = c.minGenes
		if n < 1 {
			n = 1
		}
	}
	return Clip01(float64(c.in.ExpressedGenes) / float64(n))
}

// scoringVariant is the part of scoring that differs between modes. It is
// chosen once per run.
type scoringVariant interface {
	confidence(c *cellState) Confidence
	rls(c *cellState, conf float64, pop *Population) float64
}

func newVariant(p *profile.Profile) scoringVariant {
	if p.ScoringMode == profile.ScoringImmuneAware {
		return immuneAware{p: p}
	}
	return strictBulk{p: p}
}

type immuneAware struct {
	p *profile.Profile
}

func (v immuneAware) consistency(a *Axes) float64 {
	cp := &v.p.Confidence
	penalty := math.Max(a.TRS+a.TBI-cp.TRSTBICeiling, 0) +
		math.Max(a.PDS+a.TBI-cp.PDSTBICeiling, 0) +
		math.Max(a.TRS+a.RCI-cp.TRSRCICeiling, 0)
	return Clip01(1 - penalty)
}

func (v immuneAware) confidence(c *cellState) Confidence {
	cp := &v.p.Confidence
	var keyCov float64
	if c.sig.KeyCoverageAvailable {
		keyCov = c.sig.KeyCoverageMedian
	}
	nonzero := c.exprFraction()
	if c.sig.NonzeroAvailable {
		nonzero = c.sig.PanelNonzeroFraction
	}

	var coverage float64
	if !c.sig.KeyPanelsMissing {
		coverage = Clip01(keyCov / cp.CoverageDenom)
	}
	support := Clip01(math.Sqrt(nonzero))
	structure := Clip01(c.axisVar / cp.AxisVarDenom)
	consistency := v.consistency(c.axes)

	conf := Clip01(cp.CoverageWeight*coverage + cp.ExprWeight*support + cp.StructWeight*structure + cp.ConsistWeight*consistency)
	switch {
	case !c.sig.KeyCoverageAvailable && !c.sig.NonzeroAvailable && structure == 0:
		conf = 0
	case !c.sig.KeyPanelsMissing && structure >= cp.FloorMinStructure:
		conf = math.Max(conf, cp.Floor)
	}
	return Confidence{Value: conf, Breakdown: [4]float64{coverage, support, structure, consistency}}
}

func (v immuneAware) rls(c *cellState, conf float64, pop *Population) float64 {
	cp := &v.p.Composite
	a := c.axes
	av := Clip01(c.axisVar / cp.AxisVarDenom)
	rls := Clip01(cp.RLSTBI*a.TBI + cp.RLSDFA*a.DFA + cp.RLSIAA*a.IAA + cp.RLSNSAI*a.NSAI + cp.RLSAxisVar*av -
		cp.RLSRigidity*math.Max(a.TRS, a.PDS))

	allowZero := a.TBI < cp.AllowZeroAxis && a.DFA < cp.AllowZeroAxis && a.IAA < cp.AllowZeroAxis &&
		a.NSAI < cp.AllowZeroAxis && av < cp.AllowZeroVar && conf >= cp.AllowZeroConf
	if !allowZero && pop != nil &&
		(pop.P90IAA >= cp.FloorTailP90 || pop.P90DFA >= cp.FloorTailP90 || pop.P90NSAI >= cp.FloorTailP90) {
		rls = math.Max(rls, cp.RLSFloor)
	}
	return rls
}

// strictBulk is the conservative bulk-style mode: confidence is a product
// of coverage, expression and ambient terms and scales rls directly.
type strictBulk struct {
	p *profile.Profile
}

func (v strictBulk) confidence(c *cellState) Confidence {
	cp := &v.p.Confidence
	var keyCov float64
	if c.sig.KeyCoverageAvailable {
		keyCov = c.sig.KeyCoverageMedian
	}
	ambient := 0.0
	if c.ambient {
		ambient = 1
	}
	a := cp.LegacyCoverage * keyCov
	b := cp.LegacyExpr * c.exprFraction()
	d := cp.LegacyAmbient * (1 - ambient)
	return Confidence{Value: Clip01(a * b * d), Breakdown: [4]float64{a, b, d, 0}}
}

func (v strictBulk) rls(c *cellState, conf float64, _ *Population) float64 {
	cp := &v.p.Composite
	a := c.axes
	return Clip01(cp.LegacyRLSTBI*a.TBI+cp.LegacyRLSRCI*a.RCI-cp.LegacyRLSPDS*a.PDS-cp.LegacyRLSNSAI*a.NSAI) * conf
}
