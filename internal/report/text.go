package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

// Context is what the text report states, derived from a run and its
// summary.
type Context struct {
	ScoringMode       string
	ActivationMode    string
	ConfidenceModel   string
	Regimes           []RegimeStat
	NPSMedian         float64
	CIMedian          float64
	NSAIMedian        float64
	RLSMedian         float64
	RLSContributors   []string
	RLSTailFraction   float64
	LowConfidence     float64
	LowExpr           float64
	AmbientFraction   float64
	CellCycleFraction float64
	ImmuneNote        bool
	ImmuneTailNote    bool
	ConfidenceMedians [4]float64
}

// immuneTail is the p90 at which an immune-program axis is called a tail.
const immuneTail = 0.8

// NewContext derives the text report context.
func NewContext(in *Input, s *Summary) *Context {
	cells := in.Result.Cells
	b := s.Input.Normalization.ConfidenceMedian
	ctx := &Context{
		ScoringMode:       s.Input.ScoringMode,
		ActivationMode:    s.Input.Normalization.AxisActivationMode,
		ConfidenceModel:   "immune-calibrated additive",
		Regimes:           s.RegimeStats,
		NPSMedian:         float64(s.Composites.NPS),
		CIMedian:          float64(s.Composites.CI),
		NSAIMedian:        float64(findStat(s.Distributions.Axes, "a5_nsai").Median),
		RLSMedian:         float64(s.Composites.RLS),
		RLSContributors:   s.Panels.RLSContributorsTop,
		RLSTailFraction:   float64(s.Tails.RLSLow),
		LowConfidence:     float64(s.QC.LowConfidenceFraction),
		LowExpr:           float64(s.QC.LowExprFraction),
		AmbientFraction:   flagFraction(cells, scoring.FlagAmbientRNARisk),
		CellCycleFraction: flagFraction(cells, scoring.FlagCellCycleConfounder),
		ImmuneNote:        in.Profile.ActivationMode != profile.ActivationAbsolute,
		ConfidenceMedians: [4]float64{
			float64(b.PanelCoverage), float64(b.ExprFraction), float64(b.AmbientInverse), float64(b.Consistency),
		},
	}
	if in.Profile.ScoringMode == profile.ScoringStrictBulk {
		ctx.ConfidenceModel = "legacy multiplicative"
	}
	for _, name := range []string{"a6_iaa", "a7_dfa", "a8_cea"} {
		if float64(findStat(s.Distributions.Axes, name).P90) >= immuneTail {
			ctx.ImmuneTailNote = true
		}
	}
	return ctx
}

// RenderText renders report.txt.
func RenderText(ctx *Context) string {
	var b strings.Builder
	b.WriteString("Nuclear State & Transcriptional Plasticity Report\n")
	b.WriteString("=============================================\n\n")

	b.WriteString("1. Overall nuclear state\n")
	fmt.Fprintf(&b, "Nuclear scoring mode: %s\n", ctx.ScoringMode)
	fmt.Fprintf(&b, "Axis activation mode: %s\n", ctx.ActivationMode)
	fmt.Fprintf(&b, "Confidence model: %s\n", ctx.ConfidenceModel)
	ranked := rankRegimes(ctx.Regimes)
	fmt.Fprintf(&b, "Dominant regimes: %s\n", dominantRegimes(ranked))
	fmt.Fprintf(&b, "Overall state: %s\n\n", overallState(ranked))

	b.WriteString("2. Plasticity vs commitment\n")
	fmt.Fprintf(&b, "NPS median: %s\nCI median: %s\n", f6(ctx.NPSMedian), f6(ctx.CIMedian))
	fmt.Fprintf(&b, "%s\n\n", PlasticityStatement(ctx.NPSMedian, ctx.CIMedian))

	b.WriteString("3. Stress adaptation\n")
	fmt.Fprintf(&b, "NSAI median: %s\n", f6(ctx.NSAIMedian))
	fmt.Fprintf(&b, "%s\n\n", StressStatement(ctx.NSAIMedian))

	b.WriteString("4. Reversibility outlook\n")
	fmt.Fprintf(&b, "RLS median: %s\n", f6(ctx.RLSMedian))
	if len(ctx.RLSContributors) > 0 {
		fmt.Fprintf(&b, "RLS contributors: %s\n", strings.Join(ctx.RLSContributors, ", "))
	}
	fmt.Fprintf(&b, "Conclusion: %s\n\n", ReversibilityStatement(ctx.RLSMedian, ctx.RLSTailFraction))

	b.WriteString("5. Quality and caveats\n")
	fmt.Fprintf(&b, "LOW_CONFIDENCE fraction: %s\n", f6(ctx.LowConfidence))
	fmt.Fprintf(&b, "LOW_EXPR_GENES fraction: %s\n", f6(ctx.LowExpr))
	fmt.Fprintf(&b, "AMBIENT_RNA_RISK fraction: %s\n", f6(ctx.AmbientFraction))
	fmt.Fprintf(&b, "CELL_CYCLE_CONFOUNDER fraction: %s\n", f6(ctx.CellCycleFraction))
	if ctx.ImmuneNote {
		b.WriteString("Note: Immune-like scRNA detected; using relative nuclear scoring.\n")
	}
	if ctx.ImmuneTailNote {
		b.WriteString("High IAA/DFA/CEA tails indicate immune activation subpopulation; consider cell-type gating for GC B cells\n")
	}
	m := ctx.ConfidenceMedians
	fmt.Fprintf(&b, "Confidence breakdown (median): panel_coverage=%s, expr_support=%s, axis_structure=%s, consistency=%s\n",
		f6(m[0]), f6(m[1]), f6(m[2]), f6(m[3]))
	return b.String()
}

// rankRegimes orders regimes by descending fraction, ties by name.
func rankRegimes(regimes []RegimeStat) []RegimeStat {
	out := append([]RegimeStat(nil), regimes...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fraction != out[j].Fraction {
			return out[i].Fraction > out[j].Fraction
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func dominantRegimes(ranked []RegimeStat) string {
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	parts := make([]string, len(ranked))
	for i, r := range ranked {
		parts[i] = fmt.Sprintf("%s (%s)", r.Name, f6(float64(r.Fraction)))
	}
	return strings.Join(parts, ", ")
}

func overallState(ranked []RegimeStat) string {
	top := scoring.RegimeUnclassified.String()
	if len(ranked) > 0 {
		top = ranked[0].Name
	}
	r, _ := scoring.ParseRegime(top)
	switch r {
	case scoring.RegimePlasticAdaptive:
		return "plastic"
	case scoring.RegimeStressAdaptive:
		return "adaptive"
	case scoring.RegimeCommittedState:
		return "committed"
	case scoring.RegimeRigidDegenerative, scoring.RegimeTranscriptionallyCollapsed:
		return "rigid"
	}
	return "mixed"
}

func PlasticityStatement(nps, ci float64) string {
	switch {
	case nps >= 0.60 && ci <= 0.40:
		return "Plasticity signal is high with low commitment."
	case ci >= 0.60:
		return "Commitment signal is high with reduced plasticity."
	}
	return "Plasticity and commitment are balanced."
}

func StressStatement(nsai float64) string {
	switch {
	case nsai >= 0.60:
		return "Stress adaptation signal is high."
	case nsai <= 0.40:
		return "Stress adaptation signal is low."
	}
	return "Stress adaptation signal is moderate."
}

// ReversibilityStatement classifies the rls median; tail is the fraction of
// cells at or below the rls tail threshold.
func ReversibilityStatement(rls, tail float64) string {
	switch {
	case rls >= 0.60:
		return "likely reversible"
	case rls >= 0.40:
		return "partially reversible"
	case rls >= 0.20 && tail > 0.10:
		return "majority low-RLS with adaptive tails"
	}
	return "low reversibility signal"
}
