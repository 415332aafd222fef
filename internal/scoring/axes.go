package scoring

import (
	"github.com/ARyaskov/kira-nuclearqc/internal/kernels"
	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// AxisNames lists the twelve axes in output order.
var AxisNames = [12]string{"tbi", "rci", "pds", "trs", "nsai", "iaa", "dfa", "cea", "rss", "drbi", "cci", "trci"}

// Axes are the twelve per-cell scores, each in [0,1].
type Axes struct {
	TBI  float64
	RCI  float64
	PDS  float64
	TRS  float64
	NSAI float64
	IAA  float64
	DFA  float64
	CEA  float64
	RSS  float64
	DRBI float64
	CCI  float64
	TRCI float64
}

// Values returns the axes in AxisNames order.
func (a Axes) Values() [12]float64 {
	return [12]float64{a.TBI, a.RCI, a.PDS, a.TRS, a.NSAI, a.IAA, a.DFA, a.CEA, a.RSS, a.DRBI, a.CCI, a.TRCI}
}

// Get returns an axis by name.
func (a Axes) Get(name string) (float64, bool) {
	vals := a.Values()
	for i, n := range AxisNames {
		if n == name {
			return vals[i], true
		}
	}
	return 0, false
}

// Variance is the population variance of the twelve axes.
func (a Axes) Variance() float64 {
	vals := a.Values()
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(vals))
}

// RawInputs are the panel sums that need a population window before they
// become axes.
type RawInputs struct {
	IAA               float64
	DFA               float64
	CEA               float64
	ReplicationStress float64
	Checkpoint        float64
	ForkStability     float64
	HR                float64
	NHEJ              float64
	Compaction        float64
	OpenState         float64
}

// CellInputs is the pass-one result for a cell: the five population-free
// axes plus everything later stages read.
type CellInputs struct {
	ExpressedGenes   int
	GeneEntropy      float64
	GeneEntropyNorm  float64
	PanelEntropy     float64
	PanelEntropyNorm float64
	TFEntropy        float64
	LowTFSignal      bool
	MaxProgramShare  float64
	StressRatio      float64
	DevRatio         float64

	TBI  float64
	RCI  float64
	PDS  float64
	TRS  float64
	NSAI float64

	Raw RawInputs
}

// AxisEngine computes axes from per-cell expression and panel sums.
type AxisEngine struct {
	p      *profile.Profile
	nGenes int

	program []int
	tf      []int
	stress  []int
	dev     []int

	iaa, dfa, cea                  int
	rs, checkpoint, fork, hr, nhej int
	compaction, open               int

	valueBuf   []float64
	programBuf []float64
	tfBuf      []float64
}

// NewAxisEngine binds the engine to a panel set. nGenes is the number of
// matrix rows and is the denominator of the expressed-gene fraction.
func NewAxisEngine(p *profile.Profile, set *panels.Set, nGenes int) *AxisEngine {
	e := &AxisEngine{
		p:          p,
		nGenes:     nGenes,
		program:    set.ByGroup(panels.GroupProgram),
		tf:         append(set.ByGroup(panels.GroupTF), set.ByGroup(panels.GroupChromatin)...),
		stress:     set.ByGroup(panels.GroupStress),
		dev:        set.ByGroup(panels.GroupDevelopmental),
		iaa:        set.Index(panels.ImmuneActivation),
		dfa:        set.Index(panels.DifferentiationFlux),
		cea:        set.Index(panels.ClonalEngagement),
		rs:         set.Index(panels.ReplicationStress),
		checkpoint: set.Index(panels.CheckpointActivation),
		fork:       set.Index(panels.ReplicationForkStability),
		hr:         set.Index(panels.DNARepairHR),
		nhej:       set.Index(panels.DNARepairNHEJ),
		compaction: set.Index(panels.ChromatinCompaction),
		open:       set.Index(panels.ChromatinOpenState),
	}
	e.programBuf = make([]float64, 0, len(e.program))
	e.tfBuf = make([]float64, 0, len(e.tf))
	return e
}

func pick(sums []float64, idx int) float64 {
	if idx < 0 {
		return 0
	}
	return sums[idx]
}

// Prepare computes the population-free part of a cell. values are the
// cell's stored expression values; sums are its panel sums in set order.
func (e *AxisEngine) Prepare(values, sums []float64) CellInputs {
	ap := &e.p.Axes
	var in CellInputs

	e.valueBuf = e.valueBuf[:0]
	for _, v := range values {
		if v > 0 {
			e.valueBuf = append(e.valueBuf, v)
		}
		if v > ap.ExprMin {
			in.ExpressedGenes++
		}
	}

	var frac float64
	if e.nGenes > 0 {
		frac = float64(in.ExpressedGenes) / float64(e.nGenes)
	}
	fracNorm := Rescale01(frac, ap.FracRescaleMin, ap.FracRescaleMax)
	in.GeneEntropy, in.GeneEntropyNorm = NormalizedEntropy(e.valueBuf)

	e.programBuf = e.programBuf[:0]
	for _, i := range e.program {
		e.programBuf = append(e.programBuf, sums[i])
	}
	in.PanelEntropy, in.PanelEntropyNorm = NormalizedEntropy(e.programBuf)

	in.TBI = Clip01(ap.TBIFracWeight*fracNorm + ap.TBIGeneEntropyWeight*in.GeneEntropyNorm + ap.TBIPanelEntropyWeight*in.PanelEntropyNorm)

	e.tfBuf = e.tfBuf[:0]
	for _, i := range e.tf {
		e.tfBuf = append(e.tfBuf, sums[i])
	}
	in.RCI, in.TFEntropy, in.LowTFSignal = e.rci(e.tfBuf)
	in.PDS, in.MaxProgramShare = e.pds(e.programBuf)
	in.TRS = Clip01(ap.TRSA*(1-in.TBI) + ap.TRSB*(1-in.RCI) + ap.TRSC*in.PDS)
	in.NSAI, in.StressRatio, in.DevRatio = e.nsai(sums)

	in.Raw = RawInputs{
		IAA:               pick(sums, e.iaa),
		DFA:               pick(sums, e.dfa),
		CEA:               pick(sums, e.cea),
		ReplicationStress: pick(sums, e.rs),
		Checkpoint:        pick(sums, e.checkpoint),
		ForkStability:     pick(sums, e.fork),
		HR:                pick(sums, e.hr),
		NHEJ:              pick(sums, e.nhej),
		Compaction:        pick(sums, e.compaction),
		OpenState:         pick(sums, e.open),
	}
	return in
}

// rci scores regulatory complexity over the TF and chromatin panel sums.
func (e *AxisEngine) rci(tf []float64) (score, entropy float64, low bool) {
	sum := kernels.Sum(tf)
	if sum < e.p.Axes.TFMinSum {
		return 0, 0, true
	}
	var norm float64
	entropy, norm = NormalizedEntropy(tf)
	var antiDom float64
	if sum > 0 {
		antiDom = 1 - kernels.Max(tf)/sum
	}
	return Clip01(e.p.Axes.RCIEntropyWeight*norm + e.p.Axes.RCIAntiDomWeight*antiDom), entropy, false
}

// pds scores how much the top program panels dominate the program total.
func (e *AxisEngine) pds(program []float64) (score, maxShare float64) {
	sum := kernels.Sum(program)
	if sum < e.p.Axes.ProgramMinSum || sum == 0 {
		return 0, 0
	}
	var top1, top2, top3 float64
	for _, v := range program {
		switch {
		case v <= 0:
		case v > top1:
			top1, top2, top3 = v, top1, top2
		case v > top2:
			top2, top3 = v, top2
		case v > top3:
			top3 = v
		}
	}
	maxShare = top1 / sum
	return Clip01(e.p.Axes.PDSTop1Weight*maxShare + e.p.Axes.PDSTop3Weight*(top1+top2+top3)/sum), maxShare
}

func positiveSum(sums []float64, idx []int) float64 {
	var s float64
	for _, i := range idx {
		if v := sums[i]; v > 0 {
			s += v
		}
	}
	return s
}

// nsai contrasts stress against developmental signal relative to the
// program total.
func (e *AxisEngine) nsai(sums []float64) (score, stressRatio, devRatio float64) {
	program := positiveSum(sums, e.program)
	if program < e.p.Axes.ProgramMinSum || program == 0 {
		return 0, 0, 0
	}
	stressRatio = positiveSum(sums, e.stress) / program
	devRatio = positiveSum(sums, e.dev) / program
	return Clip01(stressRatio - devRatio + e.p.Axes.StressBoost), stressRatio, devRatio
}

// activate applies the activation mode to a raw panel sum and its relative
// score.
func activate(mode profile.ActivationMode, raw, rel float64) float64 {
	switch mode {
	case profile.ActivationRelative:
		return rel
	case profile.ActivationHybrid:
		return Clip01(0.5*Clip01(raw) + 0.5*rel)
	default:
		return Clip01(raw)
	}
}

// Finalize completes a cell's axes with the population summary.
func (e *AxisEngine) Finalize(in *CellInputs, pop *Population) Axes {
	mode := e.p.ActivationMode
	r := &in.Raw
	a := Axes{
		TBI:  in.TBI,
		RCI:  in.RCI,
		PDS:  in.PDS,
		TRS:  in.TRS,
		NSAI: in.NSAI,
		IAA:  activate(mode, r.IAA, pop.IAA.Relative(r.IAA)),
		DFA:  activate(mode, r.DFA, pop.DFA.Relative(r.DFA)),
		CEA:  activate(mode, r.CEA, pop.CEA.Relative(r.CEA)),
	}
	a.RSS, a.DRBI, a.CCI, a.TRCI = e.ddr(DDRInputs{
		ReplicationStress: pop.ReplicationStress.Relative(r.ReplicationStress),
		Checkpoint:        pop.Checkpoint.Relative(r.Checkpoint),
		ForkStability:     pop.ForkStability.Relative(r.ForkStability),
		HR:                pop.HR.Relative(r.HR),
		NHEJ:              pop.NHEJ.Relative(r.NHEJ),
		Compaction:        pop.Compaction.Relative(r.Compaction),
		OpenState:         pop.OpenState.Relative(r.OpenState),
	}, in.TBI)
	return a
}
