package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

func runEngine(t *testing.T, p *profile.Profile, cells []map[string]float64, samples []string) *Result {
	t.Helper()
	symbols := builtinSymbols(40)
	ds := newDataset(t, symbols, cells, samples)
	set := panels.Resolve(panels.Builtin(), ds.Genes)
	e, err := NewEngine(p, set, panels.DefaultKeyPanels)
	require.NoError(t, err)
	res, err := e.Run(ds)
	require.NoError(t, err)
	return res
}

func TestEngine_CollapsedCell(t *testing.T) {
	cells := randomCells(11, builtinSymbols(40), 5)
	cells = append(cells, map[string]float64{"ACTB": 1, "GAPDH": 1, "MYC": 1})

	res := runEngine(t, profile.DefaultV1(), cells, nil)
	rec := res.Cells[len(res.Cells)-1]
	assert.Equal(t, 3, rec.ExpressedGenes)
	assert.Equal(t, RegimeTranscriptionallyCollapsed, rec.Regime)
	assert.True(t, rec.Flags.Has(FlagLowExprGenes))
}

func TestEngine_Deterministic(t *testing.T) {
	for _, p := range []*profile.Profile{profile.DefaultV1(), profile.ImmuneV1()} {
		t.Run(p.Name, func(t *testing.T) {
			cells := randomCells(42, builtinSymbols(40), 60)
			a := runEngine(t, p, cells, nil)
			b := runEngine(t, p, cells, nil)
			if diff := cmp.Diff(a.Cells, b.Cells); diff != "" {
				t.Fatalf("runs differ (-first +second):\n%s", diff)
			}
			for i := range a.Cells {
				x, y := a.Cells[i].Axes.Values(), b.Cells[i].Axes.Values()
				for k := range x {
					if math.Float64bits(x[k]) != math.Float64bits(y[k]) {
						t.Fatalf("cell %d axis %s not bit-identical", i, AxisNames[k])
					}
				}
			}
		})
	}
}

func TestEngine_OutputsInUnitInterval(t *testing.T) {
	for _, p := range []*profile.Profile{profile.DefaultV1(), profile.ImmuneV1()} {
		t.Run(p.Name, func(t *testing.T) {
			cells := randomCells(5, builtinSymbols(40), 80)
			cells = append(cells, map[string]float64{})
			res := runEngine(t, p, cells, nil)
			for i, c := range res.Cells {
				vals := c.Axes.Values()
				for k, v := range vals {
					if v < 0 || v > 1 || math.IsNaN(v) {
						t.Errorf("cell %d axis %s = %v", i, AxisNames[k], v)
					}
				}
				for _, v := range []float64{c.Composites.NPS, c.Composites.CI, c.Composites.RLS, c.Confidence.Value} {
					if v < 0 || v > 1 || math.IsNaN(v) {
						t.Errorf("cell %d composite/confidence out of range: %v", i, v)
					}
				}
				assert.LessOrEqual(t, len(c.Drivers.RLS), MaxDrivers)
			}
		})
	}
}

func TestEngine_EmptyCell(t *testing.T) {
	res := runEngine(t, profile.ImmuneV1(), []map[string]float64{{}, {"ACTB": 4}}, nil)
	rec := res.Cells[0]
	assert.Equal(t, 0.0, rec.Axes.TBI)
	assert.Equal(t, 0.0, rec.Axes.RCI)
	assert.Equal(t, 0.0, rec.Axes.PDS)
	// No breadth and no regulators still reads as rigid.
	assert.InDelta(t, 0.7, rec.Axes.TRS, 1e-12)
	// Degenerate DDR windows leave the neutral repair balance.
	assert.Equal(t, 0.5, rec.Axes.DRBI)
	assert.InDelta(t, 0.2, rec.Axes.RSS, 1e-12)
	assert.True(t, rec.Inputs.LowTFSignal)
	assert.Equal(t, RegimeTranscriptionallyCollapsed, rec.Regime)
	assert.Equal(t, "", rec.TopProgramPanel)
}

func TestEngine_RelativeActivationSingleCell(t *testing.T) {
	p := profile.ImmuneV1()
	p.ActivationMode = profile.ActivationRelative
	res := runEngine(t, p, []map[string]float64{{"CD69": 5, "CD74": 9, "IRF4": 2}}, nil)
	assert.Equal(t, 0.0, res.Cells[0].Axes.IAA)
	assert.Equal(t, 0.0, res.Cells[0].Axes.DFA)
	assert.True(t, res.Population.IAA.Degenerate)
}

func TestEngine_TopProgram(t *testing.T) {
	res := runEngine(t, profile.DefaultV1(), []map[string]float64{{"CD69": 3, "IRF4": 1}}, nil)
	assert.Equal(t, panels.ImmuneActivation, res.Cells[0].TopProgramPanel)
	assert.InDelta(t, 0.75, res.Cells[0].TopProgramShare, 1e-12)
}

func TestEngine_SampleMeta(t *testing.T) {
	cells := randomCells(9, builtinSymbols(40), 4)
	res := runEngine(t, profile.ImmuneV1(), cells, []string{"x", "y", "x", "y"})
	assert.Equal(t, "y", res.Cells[3].Sample)
	samples := AggregateSamples(res.Cells)
	require.Len(t, samples, 2)
	assert.Equal(t, 2, samples[0].NCells)
}

func TestNewEngine_UnknownKeyPanel(t *testing.T) {
	symbols := builtinSymbols(0)
	_, err := NewEngine(profile.DefaultV1(), builtinSet(t, symbols), []string{"tf_basic", "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, panels.ErrUnknownPanel))
}

func TestNewEngine_InvalidProfile(t *testing.T) {
	p := profile.DefaultV1()
	p.Axes.RelP70 = 0.9
	_, err := NewEngine(p, builtinSet(t, builtinSymbols(0)), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, profile.ErrInvalidProfile))
}
