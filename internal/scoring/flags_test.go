package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

func quietFlagInput() *FlagInput {
	return &FlagInput{
		ExpressedGenes: 100,
		Signals:        &Signals{SumTF: 5, KeyCoverageMedian: 0.9, ProgramSum: 5},
		Axes:           &Axes{DRBI: 0.5},
		AxisVariance:   0.05,
		Confidence:     0.8,
	}
}

func TestFlagSet_Order(t *testing.T) {
	s := FlagSet(FlagModelLimitation | FlagLowExprGenes | FlagHighTRConflict | FlagLowConfidence)
	assert.Equal(t, "LOW_EXPR_GENES,LOW_CONFIDENCE,HIGH_TR_CONFLICT,MODEL_LIMITATION", s.String())
	assert.Equal(t, "", FlagSet(0).String())

	f, ok := ParseFlag("CHROMATIN_HYPERCOMPACT")
	assert.True(t, ok)
	assert.Equal(t, FlagChromatinHypercompact, f)
	_, ok = ParseFlag("NOT_A_FLAG")
	assert.False(t, ok)
}

func TestEvaluateFlags_Silence(t *testing.T) {
	p := profile.DefaultV1()
	s := EvaluateFlags(p, quietFlagInput())
	assert.Equal(t, FlagSet(FlagBiologicalSilence), s)

	in := quietFlagInput()
	in.Axes.CEA = 0.1
	s = EvaluateFlags(p, in)
	assert.True(t, s.Has(FlagModelLimitation))
	assert.False(t, s.Has(FlagBiologicalSilence))

	// Non-absolute activation is always a model limitation.
	s = EvaluateFlags(profile.ImmuneV1(), quietFlagInput())
	assert.True(t, s.Has(FlagModelLimitation))
	assert.False(t, s.Has(FlagBiologicalSilence))
}

func TestEvaluateFlags_LowConfidence(t *testing.T) {
	in := quietFlagInput()
	in.Confidence = 0.3

	// Strict scoring flags any low confidence.
	assert.True(t, EvaluateFlags(profile.DefaultV1(), in).Has(FlagLowConfidence))

	// Immune scoring also requires flat axes.
	imm := profile.ImmuneV1()
	assert.False(t, EvaluateFlags(imm, in).Has(FlagLowConfidence))
	in.AxisVariance = 0.005
	assert.True(t, EvaluateFlags(imm, in).Has(FlagLowConfidence))
}

func TestEvaluateFlags_UnmappedNonKeyPanel(t *testing.T) {
	in := quietFlagInput()
	assert.False(t, EvaluateFlags(profile.DefaultV1(), in).Has(FlagMissingKeyPanels))

	in.Signals.PanelsUnmapped = true
	assert.True(t, EvaluateFlags(profile.DefaultV1(), in).Has(FlagMissingKeyPanels))
}

func TestEvaluateFlags_Thresholds(t *testing.T) {
	p := profile.DefaultV1()
	in := quietFlagInput()
	in.ExpressedGenes = 3
	in.Signals.KeyCoverageMedian = 0.2
	in.Signals.KeyPanelsMissing = true
	in.Signals.ProliferationShare = 0.6
	in.Ambient = true
	in.Axes.PDS = 0.8
	in.Axes.NSAI = 0.8
	in.Axes.RSS = 0.7
	in.Axes.CCI = 0.75
	in.Axes.TRCI = 0.7
	in.Axes.DRBI = 0.25

	got := EvaluateFlags(p, in).Names()
	assert.Equal(t, []string{
		"LOW_EXPR_GENES",
		"LOW_PANEL_COVERAGE",
		"MISSING_KEY_PANELS",
		"HIGH_PROGRAM_DOMINANCE",
		"HIGH_STRESS_BIAS",
		"AMBIENT_RNA_RISK",
		"CELL_CYCLE_CONFOUNDER",
		"HIGH_REPLICATION_STRESS",
		"NHEJ_DOMINANT_REPAIR",
		"CHROMATIN_HYPERCOMPACT",
		"HIGH_TR_CONFLICT",
		"BIOLOGICAL_SILENCE",
	}, got)
}
