package scoring

import "github.com/ARyaskov/kira-nuclearqc/internal/profile"

// Regime is the discrete nuclear state of a cell.
type Regime int

const (
	RegimeTranscriptionallyCollapsed Regime = iota
	RegimeRigidDegenerative
	RegimeCommittedState
	RegimeStressAdaptive
	RegimePlasticAdaptive
	RegimeTransientAdaptive
	RegimeUnclassified
)

var regimeNames = [...]string{
	RegimeTranscriptionallyCollapsed: "TranscriptionallyCollapsed",
	RegimeRigidDegenerative:          "RigidDegenerative",
	RegimeCommittedState:             "CommittedState",
	RegimeStressAdaptive:             "StressAdaptive",
	RegimePlasticAdaptive:            "PlasticAdaptive",
	RegimeTransientAdaptive:          "TransientAdaptive",
	RegimeUnclassified:               "Unclassified",
}

func (r Regime) String() string {
	if r < 0 || int(r) >= len(regimeNames) {
		return "Unclassified"
	}
	return regimeNames[r]
}

// ParseRegime is the inverse of String.
func ParseRegime(s string) (Regime, bool) {
	for i, n := range regimeNames {
		if n == s {
			return Regime(i), true
		}
	}
	return RegimeUnclassified, false
}

// ReportOrder is the order regimes appear in every report and the
// tie-break order of the sample majority.
var ReportOrder = [...]Regime{
	RegimePlasticAdaptive,
	RegimeStressAdaptive,
	RegimeCommittedState,
	RegimeRigidDegenerative,
	RegimeTranscriptionallyCollapsed,
	RegimeTransientAdaptive,
	RegimeUnclassified,
}

// RegimeInput is what the classifier reads for a cell.
type RegimeInput struct {
	ExpressedGenes int
	GeneEntropy    float64
	ProgramSum     float64

	TBI  float64
	RCI  float64
	PDS  float64
	TRS  float64
	NSAI float64
	IAA  float64
	DFA  float64
	NPS  float64
}

type regimeRule struct {
	regime Regime
	match  func(in *RegimeInput) bool
}

// RegimeClassifier applies the regime rules in order; the first match wins.
type RegimeClassifier struct {
	rules []regimeRule
}

// NewClassifier builds the ordered rule list for a profile. The transient
// rule exists only in immune-aware scoring.
func NewClassifier(p *profile.Profile) *RegimeClassifier {
	t := p.Regimes
	minGenes, programMin := p.Axes.MinExprGenes, p.Axes.ProgramMinSum
	rules := []regimeRule{
		{RegimeTranscriptionallyCollapsed, func(in *RegimeInput) bool {
			return in.ExpressedGenes < minGenes ||
				(in.TBI < t.CollapsedTBI && in.GeneEntropy < t.CollapsedEntropy && in.ProgramSum < programMin)
		}},
		{RegimeRigidDegenerative, func(in *RegimeInput) bool {
			return in.TRS >= t.RigidTRS && in.NSAI >= t.RigidNSAI && in.RCI <= t.RigidRCI
		}},
		{RegimeCommittedState, func(in *RegimeInput) bool {
			return in.TRS >= t.CommittedTRS && in.PDS >= t.CommittedPDS && in.TBI <= t.CommittedTBI && in.NSAI < t.CommittedNSAI
		}},
		{RegimeStressAdaptive, func(in *RegimeInput) bool {
			return in.NSAI >= t.StressNSAI && in.RCI >= t.StressRCI && (in.TBI >= t.StressTBI || in.PDS <= t.StressPDS)
		}},
		{RegimePlasticAdaptive, func(in *RegimeInput) bool {
			return in.NPS >= t.PlasticNPS && in.TRS <= t.PlasticTRS && in.PDS <= t.PlasticPDS
		}},
	}
	if p.ScoringMode == profile.ScoringImmuneAware {
		rules = append(rules, regimeRule{RegimeTransientAdaptive, func(in *RegimeInput) bool {
			return (in.NPS >= t.TransientNPS || in.IAA >= t.TransientIAA || in.DFA >= t.TransientDFA) &&
				in.TRS <= t.TransientTRS && in.PDS <= t.TransientPDS
		}})
	}
	return &RegimeClassifier{rules: rules}
}

// Classify returns the first matching regime, or Unclassified.
func (rc *RegimeClassifier) Classify(in *RegimeInput) Regime {
	for _, r := range rc.rules {
		if r.match(in) {
			return r.regime
		}
	}
	return RegimeUnclassified
}
