package scoring

import (
	"strings"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// Flag is a single per-cell QC annotation.
type Flag uint32

// Flags in output order.
const (
	FlagLowExprGenes Flag = 1 << iota
	FlagLowPanelCoverage
	FlagMissingKeyPanels
	FlagHighProgramDominance
	FlagHighStressBias
	FlagLowTFSignal
	FlagAmbientRNARisk
	FlagCellCycleConfounder
	FlagLowConfidence
	FlagHighReplicationStress
	FlagHRDominantRepair
	FlagNHEJDominantRepair
	FlagChromatinHypercompact
	FlagHighTRConflict
	FlagModelLimitation
	FlagBiologicalSilence

	flagCount = 16
)

var flagNames = [flagCount]string{
	"LOW_EXPR_GENES",
	"LOW_PANEL_COVERAGE",
	"MISSING_KEY_PANELS",
	"HIGH_PROGRAM_DOMINANCE",
	"HIGH_STRESS_BIAS",
	"LOW_TF_SIGNAL",
	"AMBIENT_RNA_RISK",
	"CELL_CYCLE_CONFOUNDER",
	"LOW_CONFIDENCE",
	"HIGH_REPLICATION_STRESS",
	"HR_DOMINANT_REPAIR",
	"NHEJ_DOMINANT_REPAIR",
	"CHROMATIN_HYPERCOMPACT",
	"HIGH_TR_CONFLICT",
	"MODEL_LIMITATION",
	"BIOLOGICAL_SILENCE",
}

func (f Flag) String() string {
	for i := 0; i < flagCount; i++ {
		if f == 1<<i {
			return flagNames[i]
		}
	}
	return "UNKNOWN"
}

// ParseFlag maps a flag name back to its value.
func ParseFlag(name string) (Flag, bool) {
	for i, n := range flagNames {
		if n == name {
			return 1 << i, true
		}
	}
	return 0, false
}

// FlagSet is a set of flags. Iteration always follows output order.
type FlagSet uint32

// Has reports whether f is set.
func (s FlagSet) Has(f Flag) bool { return uint32(s)&uint32(f) != 0 }

// Flags lists the set flags in output order.
func (s FlagSet) Flags() []Flag {
	var out []Flag
	for i := 0; i < flagCount; i++ {
		if f := Flag(1 << i); s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Names lists the set flag names in output order.
func (s FlagSet) Names() []string {
	flags := s.Flags()
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = f.String()
	}
	return out
}

func (s FlagSet) String() string { return strings.Join(s.Names(), ",") }

// FlagInput is what the flag rules read for a cell.
type FlagInput struct {
	ExpressedGenes int
	Signals        *Signals
	Ambient        bool
	Axes           *Axes
	AxisVariance   float64
	Confidence     float64
}

// EvaluateFlags applies the flag rules. DNA damage response flags are
// raised only when the profile enables that axis group.
func EvaluateFlags(p *profile.Profile, in *FlagInput) FlagSet {
	var s FlagSet
	set := func(cond bool, f Flag) {
		if cond {
			s |= FlagSet(f)
		}
	}
	fp := &p.Flags
	sig, a := in.Signals, in.Axes

	set(in.ExpressedGenes < p.Axes.MinExprGenes, FlagLowExprGenes)
	set(sig.KeyCoverageMedian < fp.LowPanelCoverage, FlagLowPanelCoverage)
	set(sig.KeyPanelsMissing || sig.PanelsUnmapped, FlagMissingKeyPanels)
	set(a.PDS > fp.HighProgramDominance, FlagHighProgramDominance)
	set(a.NSAI > fp.HighStressBias, FlagHighStressBias)
	set(sig.SumTF < p.Axes.TFMinSum, FlagLowTFSignal)
	set(in.Ambient, FlagAmbientRNARisk)
	set(sig.ProliferationShare > fp.CellCycleShare, FlagCellCycleConfounder)
	set(in.Confidence < p.Confidence.Low &&
		(p.ScoringMode == profile.ScoringStrictBulk || in.AxisVariance < fp.LowConfidenceAxisVar), FlagLowConfidence)

	if p.DDREnabled {
		set(a.RSS >= fp.HighReplicationStress, FlagHighReplicationStress)
		set(a.DRBI >= fp.HRDominant, FlagHRDominantRepair)
		set(a.DRBI <= fp.NHEJDominant, FlagNHEJDominantRepair)
		set(a.CCI >= fp.ChromatinHypercompact, FlagChromatinHypercompact)
		set(a.TRCI >= fp.HighTRConflict, FlagHighTRConflict)
	}

	limited := p.ActivationMode != profile.ActivationAbsolute || a.IAA > 0 || a.DFA > 0 || a.CEA > 0
	set(limited, FlagModelLimitation)
	set(!limited && in.Confidence >= p.Confidence.Low, FlagBiologicalSilence)
	return s
}
