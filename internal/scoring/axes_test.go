package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

func TestRCI_BelowTFMinimum(t *testing.T) {
	symbols := builtinSymbols(0)
	set := builtinSet(t, symbols)
	p := profile.ImmuneV1()
	require.Equal(t, 0.5, p.Axes.TFMinSum)

	sums := make([]float64, len(set.Panels))
	sums[set.Index("tf_basic")] = 0.2
	sums[set.Index("chromatin_core")] = 0.1

	in := NewAxisEngine(p, set, len(symbols)).Prepare(nil, sums)
	assert.Equal(t, 0.0, in.RCI)
	assert.True(t, in.LowTFSignal)

	flags := EvaluateFlags(p, &FlagInput{
		ExpressedGenes: 50,
		Signals:        &Signals{SumTF: 0.3, KeyCoverageMedian: 1},
		Axes:           &Axes{},
		Confidence:     0.9,
	})
	assert.True(t, flags.Has(FlagLowTFSignal))
}

func TestRCI_BalancedRegulators(t *testing.T) {
	symbols := builtinSymbols(0)
	set := builtinSet(t, symbols)
	sums := make([]float64, len(set.Panels))
	sums[set.Index("tf_basic")] = 1
	sums[set.Index("chromatin_core")] = 1

	in := NewAxisEngine(profile.DefaultV1(), set, len(symbols)).Prepare(nil, sums)
	// entropy norm 1, anti-dominance 0.5
	assert.InDelta(t, 0.75, in.RCI, 1e-12)
	assert.False(t, in.LowTFSignal)
}

func TestNSAI(t *testing.T) {
	symbols := builtinSymbols(0)
	set := builtinSet(t, symbols)
	e := NewAxisEngine(profile.DefaultV1(), set, len(symbols))

	sums := make([]float64, len(set.Panels))
	sums[set.Index(panels.ImmuneActivation)] = 2
	sums[set.Index("stress_response")] = 1.5
	sums[set.Index("developmental_core")] = 0.5
	in := e.Prepare(nil, sums)
	assert.InDelta(t, 0.75, in.StressRatio, 1e-12)
	assert.InDelta(t, 0.25, in.DevRatio, 1e-12)
	assert.InDelta(t, 0.5, in.NSAI, 1e-12)

	// Program total below the minimum zeroes the axis.
	sums[set.Index(panels.ImmuneActivation)] = 0.5
	in = e.Prepare(nil, sums)
	assert.Equal(t, 0.0, in.NSAI)
}

func TestActivate(t *testing.T) {
	assert.Equal(t, 1.0, activate(profile.ActivationAbsolute, 3.2, 0.1))
	assert.Equal(t, 0.1, activate(profile.ActivationRelative, 3.2, 0.1))
	assert.InDelta(t, 0.55, activate(profile.ActivationHybrid, 3.2, 0.1), 1e-12)
	assert.InDelta(t, 0.2, activate(profile.ActivationHybrid, 0.4, 0), 1e-12)
}

func TestDDR_RepairBalance(t *testing.T) {
	p := profile.DefaultV1()
	e := &AxisEngine{p: p}
	_, drbi, _, _ := e.ddr(DDRInputs{HR: 0.9, NHEJ: 0.1}, 0.5)
	assert.InDelta(t, 0.90, drbi, 1e-12)

	flags := EvaluateFlags(p, &FlagInput{
		ExpressedGenes: 100,
		Signals:        &Signals{SumTF: 5, KeyCoverageMedian: 1},
		Axes:           &Axes{DRBI: drbi, RSS: 0.1},
		Confidence:     0.9,
	})
	assert.True(t, flags.Has(FlagHRDominantRepair))
	assert.False(t, flags.Has(FlagNHEJDominantRepair))

	p.DDREnabled = false
	flags = EvaluateFlags(p, &FlagInput{
		ExpressedGenes: 100,
		Signals:        &Signals{SumTF: 5, KeyCoverageMedian: 1},
		Axes:           &Axes{DRBI: drbi},
		Confidence:     0.9,
	})
	assert.False(t, flags.Has(FlagHRDominantRepair))
}

func TestDDR_Axes(t *testing.T) {
	e := &AxisEngine{p: profile.DefaultV1()}
	rss, drbi, cci, trci := e.ddr(DDRInputs{
		ReplicationStress: 1,
		Checkpoint:        1,
		ForkStability:     0,
		HR:                0.2,
		NHEJ:              0.8,
		Compaction:        1,
		OpenState:         0,
	}, 1)
	assert.InDelta(t, 0.90, rss, 1e-12)
	assert.InDelta(t, 0.20, drbi, 1e-12)
	assert.InDelta(t, 0.50, cci, 1e-12)
	assert.InDelta(t, 0.70, trci, 1e-12)
}

func TestAxesVariance(t *testing.T) {
	assert.Equal(t, 0.0, Axes{}.Variance())
	a := Axes{TBI: 1, RCI: 1, PDS: 1, TRS: 1, NSAI: 1, IAA: 1}
	assert.InDelta(t, 0.25, a.Variance(), 1e-12)

	v, ok := a.Get("nsai")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	_, ok = a.Get("bogus")
	assert.False(t, ok)
}
